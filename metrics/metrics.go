package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

type BackendInfo struct {
	Mode            string        `json:"mode"`
	Duration        time.Duration `json:"duration"`
	Failed          bool          `json:"failed"`
	AttachmentBytes int           `json:"attachment_bytes"`
}

type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	SOAPVersion string        `json:"soap_version"`
	Operation   string        `json:"operation"`
	ErrorCode   string        `json:"error_code"`
	Backend     *BackendInfo  `json:"backend"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			Backend: &BackendInfo{},
		},
		logger: logger,
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.Info.Normalise()
		m.logger.Log(m.Info)
	}
}

// Normalise fills the derived address and URL fields. Records are
// shared by the writer goroutines of every logger, so it must run before
// a record is queued; ToJSON only reads.
func (i *MetricsInfo) Normalise() {
	i.normaliseNetworkAddr(i.RemoteAddr)
	if err := i.normaliseURL(&i.URL); err != nil {
		log.Printf("metrics: normaliseURL() error: %v", err)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query := make(map[string]string)
	for k, v := range r.Query() {
		if len(v) == 1 {
			query[k] = v[0]
		} else if len(v) > 1 {
			query[k] = fmt.Sprintf("%v", v)
		} else {
			query[k] = ""
		}
	}
	u.Query = query
	return nil
}
