package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nci/soapproxy/utils"
)

// MapservArgv0 is the program name the backend is started with.
const MapservArgv0 = "mapserv"

const (
	readRetries       = 8
	readRetryInterval = 20111000 * time.Nanosecond
)

// ProcessTransport runs the MapServer executable once per request with
// a CGI environment, feeding the request on stdin. Output is spooled to
// an unlinked temp file.
type ProcessTransport struct {
	Executable    string
	MapFile       string
	MaxRequestLen int
	TempDir       string
	Log           *log.Logger
}

func NewProcessTransport(config *utils.Config, logger *log.Logger) *ProcessTransport {
	return &ProcessTransport{
		Executable:    config.MapServ,
		MapFile:       config.MapFile,
		MaxRequestLen: config.MaxRequestLen,
		Log:           logger,
	}
}

func (t *ProcessTransport) Mode() utils.BackendMode {
	return utils.ExecMode
}

func (t *ProcessTransport) validate() error {
	if len(t.Executable) < utils.MinExecLen || len(t.Executable) > utils.MaxPathLen {
		return utils.NewError(utils.ErrBackendExec, "invalid executable path")
	}
	if len(t.MapFile) == 0 || len(t.MapFile) > utils.MaxPathLen {
		return utils.NewError(utils.ErrBackendExec, "invalid mapfile path")
	}
	return nil
}

func (t *ProcessTransport) command(ctx context.Context, env []string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, t.Executable)
	cmd.Args = append([]string{MapservArgv0}, args...)
	cmd.Env = env
	cmd.SysProcAttr = sysProcAttr()
	return cmd
}

func (t *ProcessTransport) Execute(ctx context.Context, request []byte) (io.ReadCloser, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if err := validateRequest(request, t.MaxRequestLen); err != nil {
		return nil, err
	}

	spool, err := ioutil.TempFile(t.TempDir, "soapproxy_spool_")
	if err != nil {
		return nil, utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "failed to create spool file"))
	}
	os.Remove(spool.Name())
	keep := false
	defer func() {
		if !keep {
			spool.Close()
		}
	}()

	nr, err := t.run(ctx, request, spool)
	if err != nil {
		return nil, err
	}
	if nr == 0 {
		return nil, utils.NewError(utils.ErrBackendExec, "backend produced no output")
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "failed to rewind spool file"))
	}
	keep = true
	return spool, nil
}

// run starts the backend with request on stdin and copies its stdout
// to w. The child has been reaped when run returns.
func (t *ProcessTransport) run(ctx context.Context, request []byte, w io.Writer) (int64, error) {
	logger := loggerOrDefault(t.Log)

	cmd := t.command(ctx, []string{
		"REQUEST_METHOD=POST",
		fmt.Sprintf("CONTENT_LENGTH=%d", len(request)),
		"MS_MAPFILE=" + t.MapFile,
	})
	cmd.Stdin = bytes.NewReader(request)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "failed to obtain stdout pipe"))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "failed to obtain stderr pipe"))
	}

	if err := cmd.Start(); err != nil {
		return 0, utils.WrapError(utils.ErrBackendExec, errors.Wrapf(err, "failed to start %s", t.Executable))
	}
	pid := cmd.Process.Pid

	// relay backend stderr to our log, with pid
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reader := bufio.NewReader(stderr)
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				logger.Println(pid, line)
			}
			if err != nil {
				break
			}
		}
	}()

	nr, copyErr := spoolOutput(stdout, w)
	if copyErr != nil {
		// nobody reads stdout any more, a blocked child would never exit
		cmd.Process.Kill()
	}
	io.Copy(ioutil.Discard, stdout)
	wg.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return 0, utils.WrapError(utils.ErrBackendExec, errors.Wrap(ctx.Err(), "backend cancelled"))
	}
	if copyErr != nil {
		return 0, utils.WrapError(utils.ErrBackendExec, errors.Wrapf(copyErr, "error reading backend output after %d bytes", nr))
	}
	if waitErr != nil {
		logger.Printf("Process %d: %v", pid, waitErr)
	}
	return nr, nil
}

// spoolOutput copies r to w in chunks. A read that returns no data and
// no error is retried a bounded number of times with growing delays.
func spoolOutput(r io.Reader, w io.Writer) (int64, error) {
	buf := make([]byte, utils.ChunkSize)
	var total int64
	tries := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			tries = 0
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			if tries >= readRetries {
				return total, nil
			}
			tries++
			time.Sleep(time.Duration(tries) * readRetryInterval)
		}
	}
}

// Version runs the backend with -v.
func (t *ProcessTransport) Version(ctx context.Context) (*VersionInfo, error) {
	if len(t.Executable) < utils.MinExecLen || len(t.Executable) > utils.MaxPathLen {
		return nil, utils.NewError(utils.ErrBackendExec, "invalid executable path")
	}
	fi, err := os.Stat(t.Executable)
	if err != nil {
		return nil, utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "failed to stat backend executable"))
	}

	cmd := t.command(ctx, []string{"MS_MAPFILE=" + t.MapFile}, "-v")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		return nil, utils.WrapError(utils.ErrBackendExec, errors.WithMessage(err, stderr.String()))
	}

	return &VersionInfo{ModTime: fi.ModTime(), Output: string(out)}, nil
}
