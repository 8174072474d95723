package processor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/backend"
	"github.com/nci/soapproxy/utils"
)

// MaxOperationLen bounds the operation name of a request.
const MaxOperationLen = 300

// Protocol identifies the OGC protocol version of a request.
type Protocol int

const (
	ProtocolWCS20   Protocol = 200
	ProtocolEOWCS10 Protocol = 1100
)

// GleanProtocol determines the protocol of a request. Only WCS 2.0 is
// served, so every request is taken as WCS 2.0.
func GleanProtocol(node *etree.Element) Protocol {
	return ProtocolWCS20
}

// Request is one SOAP operation to be served.
type Request struct {
	Operation string
	Node      *etree.Element
	Protocol  Protocol

	// FromURL is the address the request arrived on. It is advertised
	// when no SOAP URL is configured.
	FromURL string

	// Trace, when set, receives backend timings.
	Trace *Trace
}

type Trace struct {
	BackendDuration time.Duration
	BackendError    bool
	Attachment      int
}

// Dispatcher serves SOAP requests with one configuration snapshot.
type Dispatcher struct {
	Config    *utils.Config
	Transport backend.Transport
	Info      *log.Logger
	Error     *log.Logger
	Now       func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dispatcher) errLog() *log.Logger {
	if d.Error == nil {
		return log.Default()
	}
	return d.Error
}

// Dispatch runs the requested operation. On failure the error is a
// *utils.ProxyError and no result is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	op := req.Operation
	if len(op) == 0 {
		return nil, utils.NewError(utils.ErrBadRequest, "no operation name")
	}
	if len(op) >= MaxOperationLen {
		return nil, utils.NewError(utils.ErrBadRequest, "operation name too long")
	}
	if req.Node == nil {
		return nil, utils.NewError(utils.ErrNoInput, "")
	}
	if req.Protocol == 0 {
		req.Protocol = GleanProtocol(req.Node)
	}
	if req.Protocol != ProtocolWCS20 {
		return nil, utils.NewError(utils.ErrNotImplemented, fmt.Sprintf("protocol %d", req.Protocol))
	}

	switch op {
	case "DescribeCoverage", "DescribeEOCoverageSet":
		return d.invoke(ctx, req)

	case "GetCoverage":
		requested := d.now()
		res, err := d.invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Attachment == nil {
			RewriteLineage(res.Root, req.Node, requested, LineageOptions{
				SOAPURL: d.soapURL(req),
				Now:     d.Now,
				Log:     d.Error,
			})
		}
		return res, nil

	case "GetCapabilities":
		res, err := d.invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		InjectSOAPCapability(res.Root, CapabilityOptions{
			SOAPURL:       d.soapURL(req),
			DeleteNonSOAP: d.Config.DeleteNonSOAPURLs,
			Log:           d.Error,
		})
		return res, nil

	case "GetMsVersion":
		return d.msVersion(ctx)
	}

	return nil, utils.NewError(utils.ErrBadOperation, op)
}

func (d *Dispatcher) soapURL(req *Request) string {
	return d.Config.SOAPURL(req.FromURL)
}

// invoke forwards the request element to the backend and builds the
// response payload from its output.
func (d *Dispatcher) invoke(ctx context.Context, req *Request) (*Result, error) {
	utils.InheritNamespaces(req.Node)
	body, err := utils.ElementString(req.Node)
	if err != nil {
		return nil, utils.WrapError(utils.ErrInternal, err)
	}

	t0 := time.Now()
	stream, err := d.Transport.Execute(ctx, []byte(body))
	if req.Trace != nil {
		req.Trace.BackendDuration = time.Since(t0)
		req.Trace.BackendError = err != nil
	}
	if err != nil {
		d.errLog().Printf("%s: backend failed: %v", req.Operation, err)
		if utils.CodeOf(err) == utils.ErrInternal {
			return nil, utils.WrapError(utils.ErrBackendExec, err)
		}
		return nil, err
	}

	res, err := BuildResponse(stream, BuildOptions{Debug: d.Config.Debug, Log: d.Error})
	if err != nil {
		d.errLog().Printf("%s: %v", req.Operation, err)
		return nil, err
	}
	if req.Trace != nil && res.Attachment != nil {
		req.Trace.Attachment = len(res.Attachment.Data)
	}
	return res, nil
}

func (d *Dispatcher) msVersion(ctx context.Context) (*Result, error) {
	if d.Transport.Mode() == utils.URLMode {
		return nil, utils.NewError(utils.ErrNotImplemented, "GetMsVersion is not available with backend_url")
	}
	vr, ok := d.Transport.(backend.VersionReporter)
	if !ok {
		return nil, utils.NewError(utils.ErrNotImplemented, "GetMsVersion")
	}
	info, err := vr.Version(ctx)
	if err != nil {
		d.errLog().Printf("GetMsVersion: %v", err)
		return nil, err
	}

	el := etree.NewElement(utils.QName(PrefixProxy, "MapServerVersion"))
	el.CreateAttr("xmlns:"+PrefixProxy, NSProxy)
	el.SetText(fmt.Sprintf("mapserv exe date: %s\n%s", info.ModTime.Format(time.ANSIC), strings.TrimSpace(info.Output)))
	return &Result{Root: el}, nil
}
