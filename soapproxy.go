package main

/* soapproxy is a web service that accepts OGC WCS 2.0 requests
   wrapped in SOAP envelopes, forwards them as plain POST requests
   to MapServer and returns the MapServer response wrapped in a SOAP
   envelope. Coverage data is returned as an MTOM attachment.
   MapServer is either run as a CGI program for every request or
   reached over TCP, as set in the YAML config file.
   GetCapabilities responses are rewritten to advertise the SOAP
   binding, and GetCoverage responses get a lineage entry recording
   the SOAP request. */

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nci/soapproxy/backend"
	"github.com/nci/soapproxy/metrics"
	"github.com/nci/soapproxy/soap"
	"github.com/nci/soapproxy/utils"
)

var (
	port           = flag.Int("p", 8080, "Server listening port.")
	configFile     = flag.String("conf", utils.EtcDir+"/soap_proxy.yaml", "Server config file.")
	serverDataDir  = flag.String("data_dir", ".", "Server data directory, containing templates/.")
	serverLogDir   = flag.String("log_dir", "", "Server log directory, '-' for stdout.")
	validateConfig = flag.Bool("check_conf", false, "Validate server config file.")
	dumpConfig     = flag.Bool("dump_conf", false, "Dump effective server config.")
	verbose        = flag.Bool("v", false, "Verbose mode for more server outputs.")
	poolSize       = flag.Int("n", 8, "Maximum number of backend requests run concurrently.")
	maxConns       = flag.Int("max_conns", 0, "Maximum number of open client connections, 0 for no limit.")
	reusePort      = flag.Bool("reuseport", false, "Listen with SO_REUSEPORT.")
	healthPort     = flag.Int("grpc_health_port", 0, "gRPC health service port, 0 to disable.")
	rateLimit      = flag.Float64("rate", 0, "Requests per second allowed per client, 0 for no limit.")
	rateBurst      = flag.Int("burst", 20, "Request burst allowed per client.")
	metricsDSN     = flag.String("metrics_dsn", "", "PostgreSQL DSN for request metrics.")
	mtom           = flag.Bool("mtom", true, "Send coverages as MTOM attachments instead of inline base64.")
	trustProxy     = flag.Bool("trust_proxy", false, "Take the client address from X-Forwarded-For. Only set behind a trusted reverse proxy.")
)

var (
	Error *log.Logger
	Info  *log.Logger
)

func newMetricsLogger(promLogger metrics.Logger) metrics.Logger {
	loggers := metrics.MultiLogger{promLogger}

	if len(*serverLogDir) > 0 {
		if *serverLogDir == "-" {
			loggers = append(loggers, metrics.NewStdoutLogger())
		} else {
			maxLogFileSize := int64(0)
			if val, ok := os.LookupEnv("SOAPPROXY_MAX_LOG_FILE_SIZE"); ok {
				valInt, e := strconv.ParseInt(val, 10, 64)
				if e == nil {
					maxLogFileSize = valInt
				} else {
					Error.Printf("invalid SOAPPROXY_MAX_LOG_FILE_SIZE: %v", e)
				}
			}

			maxLogFiles := -1
			if val, ok := os.LookupEnv("SOAPPROXY_MAX_LOG_FILES"); ok {
				valInt, e := strconv.ParseInt(val, 10, 32)
				if e == nil {
					maxLogFiles = int(valInt)
				} else {
					Error.Printf("invalid SOAPPROXY_MAX_LOG_FILES: %v", e)
				}
			}

			loggers = append(loggers, metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose))
		}
	}

	if len(*metricsDSN) > 0 {
		pgLogger, err := metrics.NewPostgresLogger(*metricsDSN, "", *verbose)
		if err != nil {
			Error.Printf("PostgreSQL metrics disabled: %v", err)
		} else {
			loggers = append(loggers, pgLogger)
		}
	}
	return loggers
}

func listen(addr string) (net.Listener, error) {
	var lis net.Listener
	var err error
	if *reusePort {
		lis, err = reuseport.Listen("tcp", addr)
	} else {
		lis, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if *maxConns > 0 {
		lis = netutil.LimitListener(lis, *maxConns)
	}
	return lis, nil
}

func startHealthServer(hs *health.Server) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *healthPort))
	if err != nil {
		Error.Fatalf("failed to listen for gRPC health: %v", err)
	}
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go func() {
		if err := s.Serve(lis); err != nil {
			Error.Printf("gRPC health server stopped: %v", err)
		}
	}()
}

func main() {
	Error = log.New(os.Stderr, "SOAPPROXY: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "SOAPPROXY: ", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Parse()

	config, err := utils.LoadConfigFile(*configFile)
	if err != nil {
		Error.Printf("%s %v\n", utils.ErrConfigLoad.Message(), err)
		os.Exit(1)
	}

	if *validateConfig {
		os.Exit(0)
	}

	if *dumpConfig {
		configYAML, err := utils.DumpConfig(config)
		if err != nil {
			Error.Printf("Error in dumping config: %v\n", err)
		} else {
			log.Print(configYAML)
		}
		os.Exit(0)
	}

	store := utils.NewConfigStore(config)
	pool := backend.NewPool(backend.New(config, Error), *poolSize, backend.DefaultQueueSize)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	utils.WatchConfig(Info, Error, *configFile, store, func(c *utils.Config) {
		pool.SetTransport(backend.New(c, Error))
		Info.Printf("Backend reconfigured, mode: %s", c.Mode)
	})

	if *healthPort > 0 {
		startHealthServer(hs)
	}

	handler := &soapHandler{
		store:   store,
		pool:    pool,
		faults:  soap.NewFaultWriter(*serverDataDir + "/templates"),
		limiter: utils.NewRemoteLimiter(*rateLimit, *rateBurst, 0),
		metrics: newMetricsLogger(metrics.NewPrometheus(prometheus.DefaultRegisterer)),
		mtom:    *mtom,
		verbose: *verbose,
		info:    Info,
		error:   Error,

		trustProxy: *trustProxy,
	}

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/soap", handler)
	mux.Handle("/metrics", promhttp.Handler())

	lis, err := listen(fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Fatalf("failed to listen: %v", err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 30 * time.Second}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signals
		hs.Shutdown()
		srv.Close()
	}()

	Info.Printf("SOAP proxy is ready, backend mode: %s", config.Mode)
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	pool.Close()
}
