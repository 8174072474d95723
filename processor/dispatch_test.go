package processor

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/backend"
	"github.com/nci/soapproxy/utils"
)

type fakeTransport struct {
	mode     utils.BackendMode
	response string
	err      error
	version  *backend.VersionInfo

	calls   int
	request string
}

func (f *fakeTransport) Execute(ctx context.Context, request []byte) (io.ReadCloser, error) {
	f.calls++
	f.request = string(request)
	if f.err != nil {
		return nil, f.err
	}
	return ioutil.NopCloser(strings.NewReader(f.response)), nil
}

func (f *fakeTransport) Mode() utils.BackendMode {
	return f.mode
}

func (f *fakeTransport) Version(ctx context.Context) (*backend.VersionInfo, error) {
	if f.version == nil {
		return nil, utils.NewError(utils.ErrBackendExec, "no version")
	}
	return f.version, nil
}

func newDispatcher(tr backend.Transport) *Dispatcher {
	return &Dispatcher{
		Config:    &utils.Config{SOAPOperationsURL: "http://proxy/soap"},
		Transport: tr,
		Info:      quietLog,
		Error:     quietLog,
		Now:       func() time.Time { return injected },
	}
}

func operation(t *testing.T, envelope string) *Request {
	doc := parse(t, envelope)
	body := utils.FindNamed(doc.Root(), "Body", false)
	node := body.ChildElements()[0]
	return &Request{Operation: node.Tag, Node: node, Trace: &Trace{}}
}

func wrap(body string) string {
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:wcs="http://www.opengis.net/wcs/2.0"><soap:Body>` +
		body + `</soap:Body></soap:Envelope>`
}

func TestDispatchGetCapabilities(t *testing.T) {
	tr := &fakeTransport{response: "Content-type: text/xml\n\n<Capabilities><ServiceIdentification/></Capabilities>"}
	req := operation(t, wrap(`<wcs:GetCapabilities service="WCS"/>`))

	res, err := newDispatcher(tr).Dispatch(context.Background(), req)
	if err != nil {
		t.Errorf("GetCapabilities failed: %v", err)
		return
	}
	profile := utils.FindNamed(res.Root, "Profile", true)
	if profile == nil || profile.Text() != SOAPExtensionProfile {
		t.Errorf("GetCapabilities should advertise %s", SOAPExtensionProfile)
	}
	if !strings.Contains(tr.request, `xmlns:wcs="http://www.opengis.net/wcs/2.0"`) || !strings.HasPrefix(tr.request, "<wcs:GetCapabilities") {
		t.Errorf("forwarded request should be a standalone element, actual: %s", tr.request)
	}
}

func TestDispatchGetCoverageTIFF(t *testing.T) {
	raster := "II*\x00\x10\x00\x00\x00raster"
	tr := &fakeTransport{response: "Content-type: image/tiff\r\n\r\n" + raster}
	req := operation(t, wrap(`<wcs:GetCoverage><wcs:CoverageId>c1</wcs:CoverageId></wcs:GetCoverage>`))

	res, err := newDispatcher(tr).Dispatch(context.Background(), req)
	if err != nil {
		t.Errorf("GetCoverage failed: %v", err)
		return
	}
	if res.Attachment == nil || string(res.Attachment.Data) != raster || res.Attachment.ContentType != "image/tiff" {
		t.Errorf("GetCoverage attachment failed, actual: %+v", res.Attachment)
	}
	if req.Trace.Attachment != len(raster) {
		t.Errorf("trace failed. Expecting %d attachment bytes, actual: %d", len(raster), req.Trace.Attachment)
	}
}

func TestDispatchGetCoverageLineage(t *testing.T) {
	tr := &fakeTransport{response: "Content-type: text/xml\n\n" + eoMetadataDoc}
	req := operation(t, wrap(`<wcs:GetCoverage><wcs:CoverageId>c1</wcs:CoverageId></wcs:GetCoverage>`))

	res, err := newDispatcher(tr).Dispatch(context.Background(), req)
	if err != nil {
		t.Errorf("GetCoverage failed: %v", err)
		return
	}
	times := lineageTimes(res.Root)
	if len(times) != 3 || times[2] != utils.FormatISOTime(injected) {
		t.Errorf("GetCoverage lineage failed, actual: %q", times)
	}
}

func TestDispatchDescribe(t *testing.T) {
	for _, op := range []string{"DescribeCoverage", "DescribeEOCoverageSet"} {
		tr := &fakeTransport{response: "Content-type: text/xml\n\n<wcs:CoverageDescriptions xmlns:wcs=\"http://www.opengis.net/wcs/2.0\"/>"}
		req := operation(t, wrap(`<wcs:`+op+` service="WCS"/>`))
		res, err := newDispatcher(tr).Dispatch(context.Background(), req)
		if err != nil || res.Root.Tag != "CoverageDescriptions" {
			t.Errorf("%s failed: %v", op, err)
		}
	}
}

func TestDispatchErrors(t *testing.T) {
	tr := &fakeTransport{response: "Content-type: text/xml\n\n<a/>"}
	d := newDispatcher(tr)
	node := etree.NewElement("GetCoverage")

	cases := []struct {
		req  *Request
		code utils.ErrorCode
	}{
		{&Request{Operation: "FooBar", Node: etree.NewElement("FooBar")}, utils.ErrBadOperation},
		{&Request{Operation: "", Node: node}, utils.ErrBadRequest},
		{&Request{Operation: strings.Repeat("x", MaxOperationLen), Node: node}, utils.ErrBadRequest},
		{&Request{Operation: "GetCoverage"}, utils.ErrNoInput},
		{&Request{Operation: "GetCoverage", Node: node, Protocol: ProtocolEOWCS10}, utils.ErrNotImplemented},
	}
	for _, c := range cases {
		_, err := d.Dispatch(context.Background(), c.req)
		if utils.CodeOf(err) != c.code {
			t.Errorf("Dispatch(%q) failed. Expecting %v, actual: %v", c.req.Operation, c.code, err)
		}
	}
	if tr.calls != 0 {
		t.Errorf("rejected requests should not reach the backend, actual calls: %d", tr.calls)
	}
}

func TestDispatchBackendFailure(t *testing.T) {
	tr := &fakeTransport{err: errors.New("connection reset")}
	req := operation(t, wrap(`<wcs:DescribeCoverage/>`))
	_, err := newDispatcher(tr).Dispatch(context.Background(), req)
	if utils.CodeOf(err) != utils.ErrBackendExec {
		t.Errorf("backend failure failed. Expecting %v, actual: %v", utils.ErrBackendExec, err)
	}
	if !req.Trace.BackendError {
		t.Errorf("trace should record the backend failure")
	}
}

func TestDispatchRequestTooLong(t *testing.T) {
	tr := &backend.SocketTransport{Host: "127.0.0.1", Port: 1, Path: "/", MaxRequestLen: 16}
	pool := backend.NewPool(tr, 1, 0)
	defer pool.Close()

	req := operation(t, wrap(`<wcs:GetCoverage><wcs:CoverageId>a-long-coverage-id</wcs:CoverageId></wcs:GetCoverage>`))
	_, err := newDispatcher(pool).Dispatch(context.Background(), req)
	var pe *utils.ProxyError
	if !errors.As(err, &pe) || pe.Code != utils.ErrBackendExec || pe.Detail != "request too long" {
		t.Errorf("oversized request failed, actual: %v", err)
	}
}

func TestDispatchGetMsVersion(t *testing.T) {
	mtime := time.Date(2021, 5, 4, 3, 2, 1, 0, time.UTC)
	tr := &fakeTransport{
		mode:    utils.ExecMode,
		version: &backend.VersionInfo{ModTime: mtime, Output: "MapServer version 7.6.4\n"},
	}
	req := operation(t, wrap(`<sopr:GetMsVersion xmlns:sopr="http://www.eoxserver.org/soap_proxy/wcsProxy"/>`))
	res, err := newDispatcher(tr).Dispatch(context.Background(), req)
	if err != nil {
		t.Errorf("GetMsVersion failed: %v", err)
		return
	}
	expected := "mapserv exe date: " + mtime.Format(time.ANSIC) + "\nMapServer version 7.6.4"
	if res.Root.Tag != "MapServerVersion" || res.Root.Text() != expected {
		t.Errorf("GetMsVersion failed. Expecting %q, actual: %q", expected, res.Root.Text())
	}
	if res.Root.SelectAttrValue("xmlns:sopr", "") != NSProxy {
		t.Errorf("GetMsVersion namespace failed")
	}
	if tr.calls != 0 {
		t.Errorf("GetMsVersion should not forward the request")
	}

	tr.mode = utils.URLMode
	if _, err := newDispatcher(tr).Dispatch(context.Background(), req); utils.CodeOf(err) != utils.ErrNotImplemented {
		t.Errorf("GetMsVersion in URL mode failed. Expecting %v, actual: %v", utils.ErrNotImplemented, err)
	}
}
