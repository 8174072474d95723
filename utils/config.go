package utils

import (
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	yaml "gopkg.in/yaml.v2"
)

var EtcDir = "."

const (
	// MaxPathLen bounds the executable and mapfile paths.
	MaxPathLen = 4096
	// MinExecLen is the shortest plausible backend executable path.
	MinExecLen = 3
	// MaxRequestLen is the largest request body forwarded to the backend.
	MaxRequestLen = 536870910

	DefaultDialTimeout = 30 * time.Second

	// UnknownSOAPURL is advertised when no SOAP endpoint URL can be determined.
	UnknownSOAPURL = "ERROR: URL-UNKNOWN"
)

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

// BackendMode selects how MapServer is reached.
type BackendMode int

const (
	ExecMode BackendMode = iota
	URLMode
)

func (m BackendMode) String() string {
	if m == URLMode {
		return "url"
	}
	return "exec"
}

// Config is the configuration of the SOAP proxy. It is loaded once
// and never modified afterwards; a reload produces a new value.
type Config struct {
	MapFile           string        `yaml:"map_file"`
	MapServ           string        `yaml:"map_serv"`
	BackendURL        string        `yaml:"backend_url"`
	SOAPOperationsURL string        `yaml:"soap_operations_url"`
	DeleteNonSOAPURLs bool          `yaml:"delete_non_soap_urls"`
	Debug             bool          `yaml:"debug"`
	MaxRequestLen     int           `yaml:"max_request_len,omitempty"`
	DialTimeout       time.Duration `yaml:"dial_timeout,omitempty"`

	Mode        BackendMode `yaml:"-"`
	BackendHost string      `yaml:"-"`
	BackendPort int         `yaml:"-"`
	BackendPath string      `yaml:"-"`
}

// LoadConfigFile reads and validates a YAML config document.
func LoadConfigFile(configFile string) (*Config, error) {
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	config, err := ParseConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("Error in config file: %s. Error: %v", configFile, err)
	}
	return config, nil
}

// ParseConfig decodes a YAML document, applies environment overrides
// and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, fmt.Errorf("YAML parsing error: %v", err)
	}
	config.ApplyEnvOverrides()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnvOverrides lets deployments override selected properties
// without editing the config file.
func (config *Config) ApplyEnvOverrides() {
	if v, ok := os.LookupEnv("SOAPPROXY_MAPFILE"); ok {
		config.MapFile = v
	}
	if v, ok := os.LookupEnv("SOAPPROXY_MAPSERV"); ok {
		config.MapServ = v
	}
	if v, ok := os.LookupEnv("SOAPPROXY_BACKEND_URL"); ok {
		config.BackendURL = v
	}
	if v, ok := os.LookupEnv("SOAPPROXY_SOAP_URL"); ok {
		config.SOAPOperationsURL = v
	}
	if v, ok := os.LookupEnv("SOAPPROXY_DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Debug = b
		}
	}
}

// Validate checks the backend settings and derives the backend mode.
func (config *Config) Validate() error {
	config.MapFile = strings.TrimSpace(config.MapFile)
	config.MapServ = strings.TrimSpace(config.MapServ)
	config.BackendURL = strings.TrimSpace(config.BackendURL)

	if len(config.MapServ) > 0 && len(config.BackendURL) > 0 {
		return fmt.Errorf("map_serv and backend_url are mutually exclusive")
	}

	if config.MaxRequestLen <= 0 || config.MaxRequestLen > MaxRequestLen {
		config.MaxRequestLen = MaxRequestLen
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if len(config.MapFile) > MaxPathLen {
		return fmt.Errorf("map_file exceeds %d bytes", MaxPathLen)
	}

	if len(config.BackendURL) > 0 {
		config.Mode = URLMode
		return config.parseBackendURL()
	}

	config.Mode = ExecMode
	if len(config.MapServ) == 0 {
		return fmt.Errorf("one of map_serv or backend_url must be set")
	}
	if len(config.MapServ) < MinExecLen || len(config.MapServ) > MaxPathLen {
		return fmt.Errorf("invalid map_serv path length: %d", len(config.MapServ))
	}
	if len(config.MapFile) == 0 {
		return fmt.Errorf("map_file is required when map_serv is set")
	}
	return nil
}

func (config *Config) parseBackendURL() error {
	u, err := url.Parse(config.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend_url: %v", err)
	}
	if u.Scheme != "" && u.Scheme != "http" {
		return fmt.Errorf("unsupported backend_url scheme: %s", u.Scheme)
	}
	if len(u.Host) == 0 {
		return fmt.Errorf("backend_url has no host: %s", config.BackendURL)
	}

	host, port := u.Host, "80"
	if h, p, e := net.SplitHostPort(u.Host); e == nil {
		host, port = h, p
	}
	config.BackendHost = host
	config.BackendPort, err = strconv.Atoi(port)
	if err != nil || config.BackendPort <= 0 || config.BackendPort > 65535 {
		return fmt.Errorf("invalid backend_url port: %s", port)
	}

	config.BackendPath = u.RequestURI()
	if len(config.BackendPath) == 0 {
		config.BackendPath = "/"
	}
	return nil
}

// SOAPURL returns the externally visible SOAP endpoint, falling back to
// the address the request was received on.
func (config *Config) SOAPURL(fromAddr string) string {
	if len(config.SOAPOperationsURL) > 0 {
		return config.SOAPOperationsURL
	}
	if len(fromAddr) > 0 {
		return fromAddr
	}
	return UnknownSOAPURL
}

// DumpConfig renders the effective configuration as YAML.
func DumpConfig(config *Config) (string, error) {
	out, err := yaml.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ConfigStore holds the current configuration snapshot.
type ConfigStore struct {
	v atomic.Value
}

func NewConfigStore(config *Config) *ConfigStore {
	s := &ConfigStore{}
	s.v.Store(config)
	return s
}

func (s *ConfigStore) Load() *Config {
	return s.v.Load().(*Config)
}

func (s *ConfigStore) Store(config *Config) {
	s.v.Store(config)
}

// WatchConfig reloads the config file on SIGHUP. A config that fails
// to load leaves the current one in place.
func WatchConfig(infoLog, errLog *log.Logger, configFile string, store *ConfigStore, onReload func(*Config)) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			config, err := LoadConfigFile(configFile)
			if err != nil {
				errLog.Printf("Error in loading config file: %v\n", err)
				continue
			}
			store.Store(config)
			if onReload != nil {
				onReload(config)
			}
		}
	}()
}
