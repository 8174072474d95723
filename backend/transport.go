// Package backend runs requests against MapServer, either as a CGI
// style child process or over a TCP connection.
package backend

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/nci/soapproxy/utils"
)

// Transport sends one request to the backend and returns the raw
// response stream, HTTP-style headers included. The caller owns the
// stream and must close it.
type Transport interface {
	Execute(ctx context.Context, request []byte) (io.ReadCloser, error)
	Mode() utils.BackendMode
}

// VersionInfo describes the backend executable.
type VersionInfo struct {
	ModTime time.Time
	Output  string
}

// VersionReporter is implemented by transports that can query the
// backend for its version.
type VersionReporter interface {
	Version(ctx context.Context) (*VersionInfo, error)
}

// New selects the transport configured by config.
func New(config *utils.Config, logger *log.Logger) Transport {
	if config.Mode == utils.URLMode {
		return NewSocketTransport(config)
	}
	return NewProcessTransport(config, logger)
}

func validateRequest(request []byte, maxLen int) error {
	if maxLen <= 0 || maxLen > utils.MaxRequestLen {
		maxLen = utils.MaxRequestLen
	}
	if len(request) == 0 {
		return utils.NewError(utils.ErrBackendExec, "empty request")
	}
	if len(request) > maxLen {
		return utils.NewError(utils.ErrBackendExec, "request too long")
	}
	return nil
}

func loggerOrDefault(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}
