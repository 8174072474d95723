package main

import (
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nci/soapproxy/backend"
	"github.com/nci/soapproxy/metrics"
	"github.com/nci/soapproxy/processor"
	"github.com/nci/soapproxy/soap"
	"github.com/nci/soapproxy/utils"
)

// extra room on top of the backend request limit for the envelope
const envelopeSlack = 64 * 1024

// soapHandler serves SOAP requests on one endpoint.
type soapHandler struct {
	store   *utils.ConfigStore
	pool    *backend.Pool
	faults  *soap.FaultWriter
	limiter *utils.RemoteLimiter
	metrics metrics.Logger
	mtom    bool
	verbose bool

	// trust X-Forwarded-For, set when running behind a reverse proxy
	trustProxy bool

	info  *log.Logger
	error *log.Logger
}

// clientAddr returns the client address used for rate limiting and
// metrics. Forwarding headers are client supplied and only honoured
// when trustProxy is set.
func clientAddr(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); len(fwd) > 0 {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	return r.RemoteAddr
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// requestURL reconstructs the URL the client used to reach us.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); len(proto) > 0 {
		scheme = proto
	}
	if len(r.Host) == 0 {
		return ""
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func (h *soapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	if h.verbose {
		h.info.Printf("%s %s from %s\n", r.Method, r.URL.String(), r.RemoteAddr)
	}

	metricsCollector := metrics.NewMetricsCollector(h.metrics)
	defer metricsCollector.Log()

	t0 := time.Now()
	metricsCollector.Info.ReqTime = t0.UTC().Format(utils.ISOFormat)
	defer func() { metricsCollector.Info.ReqDuration = time.Since(t0) }()

	metricsCollector.Info.URL.RawURL = r.URL.String()
	addr := clientAddr(r, h.trustProxy)
	metricsCollector.Info.RemoteAddr = addr
	metricsCollector.Info.HTTPStatus = 200

	if r.Method != http.MethodPost {
		metricsCollector.Info.HTTPStatus = 405
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "SOAP requests must be sent with POST", 405)
		return
	}

	if !h.limiter.Allow(remoteHost(addr), t0) {
		metricsCollector.Info.HTTPStatus = 429
		http.Error(w, "Too many requests", 429)
		return
	}

	config := h.store.Load()
	body := io.LimitReader(r.Body, int64(config.MaxRequestLen)+envelopeSlack)

	env, err := soap.ReadEnvelope(body, r.Header.Get("Content-Type"))
	version := soap.SOAP11
	if env != nil {
		version = env.Version
	}
	if version == soap.SOAP12 {
		metricsCollector.Info.SOAPVersion = "1.2"
	} else {
		metricsCollector.Info.SOAPVersion = "1.1"
	}
	if err != nil {
		h.error.Printf("Failed to read SOAP request: %v", err)
		h.writeFault(w, version, err, metricsCollector)
		return
	}
	metricsCollector.Info.Operation = env.Operation

	trace := &processor.Trace{}
	req := &processor.Request{
		Operation: env.Operation,
		Node:      env.Node,
		FromURL:   requestURL(r),
		Trace:     trace,
	}
	dispatcher := &processor.Dispatcher{
		Config:    config,
		Transport: h.pool,
		Info:      h.info,
		Error:     h.error,
	}

	res, err := dispatcher.Dispatch(r.Context(), req)
	metricsCollector.Info.Backend.Mode = config.Mode.String()
	metricsCollector.Info.Backend.Duration = trace.BackendDuration
	metricsCollector.Info.Backend.Failed = trace.BackendError
	metricsCollector.Info.Backend.AttachmentBytes = trace.Attachment
	if err != nil {
		h.writeFault(w, version, err, metricsCollector)
		return
	}

	msg, err := soap.Encode(version, res, h.mtom)
	if err != nil {
		h.error.Printf("Failed to encode SOAP response: %v", err)
		h.writeFault(w, version, err, metricsCollector)
		return
	}

	w.Header().Set("Content-Type", msg.ContentType)
	if _, err := msg.WriteTo(w); err != nil {
		h.error.Printf("Failed to send SOAP response: %v", err)
	}
}

func (h *soapHandler) writeFault(w http.ResponseWriter, version soap.Version, err error, metricsCollector *metrics.MetricsCollector) {
	code := utils.CodeOf(err)
	status := 500
	if version == soap.SOAP12 && code.IsUserError() {
		status = 400
	}
	metricsCollector.Info.HTTPStatus = status
	metricsCollector.Info.ErrorCode = code.String()

	msg := h.faults.Fault(version, err)
	w.Header().Set("Content-Type", msg.ContentType)
	w.WriteHeader(status)
	msg.WriteTo(w)
}
