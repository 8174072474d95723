package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nci/soapproxy/utils"
)

// SocketTransport posts the request to a MapServer reachable over TCP
// using a bare HTTP/1.0 request.
type SocketTransport struct {
	Host          string
	Port          int
	Path          string
	MapFile       string
	MaxRequestLen int
	DialTimeout   time.Duration
}

func NewSocketTransport(config *utils.Config) *SocketTransport {
	return &SocketTransport{
		Host:          config.BackendHost,
		Port:          config.BackendPort,
		Path:          config.BackendPath,
		MapFile:       config.MapFile,
		MaxRequestLen: config.MaxRequestLen,
		DialTimeout:   config.DialTimeout,
	}
}

func (t *SocketTransport) Mode() utils.BackendMode {
	return utils.URLMode
}

func (t *SocketTransport) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t *SocketTransport) validate() error {
	if len(t.Host) == 0 || len(t.Path) == 0 {
		return utils.NewError(utils.ErrBackendExec, "backend host or path not configured")
	}
	if len(t.Path) > utils.MaxPathLen || len(t.MapFile) > utils.MaxPathLen {
		return utils.NewError(utils.ErrBackendExec, "backend path too long")
	}
	return nil
}

func (t *SocketTransport) Execute(ctx context.Context, request []byte) (io.ReadCloser, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if err := validateRequest(request, t.MaxRequestLen); err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, utils.WrapError(utils.ErrBackendExec, errors.Wrapf(err, "failed to connect to %s", t.Addr()))
	}

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "POST %s HTTP/1.0\r\n", t.Path)
	fmt.Fprintf(w, "Content-Length: %d\r\n", len(request))
	fmt.Fprintf(w, "Content-Type: text/xml\r\n")
	fmt.Fprintf(w, "MS_MAPFILE: %s\r\n\r\n", t.MapFile)
	w.Write(request)
	if err := w.Flush(); err != nil {
		conn.Close()
		return nil, utils.WrapError(utils.ErrBackendExec, errors.Wrap(err, "error writing request to backend"))
	}

	s := &socketStream{Conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type socketStream struct {
	net.Conn
	done chan struct{}
	once sync.Once
}

func (s *socketStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.Conn.Close()
}
