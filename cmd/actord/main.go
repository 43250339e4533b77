package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/actorkit/actorkit/pkg/logging"
	"github.com/actorkit/actorkit/pkg/metrics"
	"github.com/actorkit/actorkit/pkg/platform"
	"github.com/actorkit/actorkit/pkg/shutdown"
	"github.com/actorkit/actorkit/pkg/storage"
	"github.com/actorkit/actorkit/pkg/tlsutil"
	"github.com/actorkit/actorkit/pkg/tracing"
)

func main() {
	addr := flag.String("addr", ":8035", "Listen address")
	backend := flag.String("storage", "sqlite", "Storage backend: memory, sqlite or postgres")
	dsn := flag.String("dsn", "actord.db", "SQLite path or PostgreSQL connection string")
	apiToken := flag.String("api-token", os.Getenv("ACTORD_API_TOKEN"), "API token (default: ACTORD_API_TOKEN env var, empty disables auth)")
	rateLimit := flag.Float64("rate-limit", 0, "Requests per second per caller (0 disables)")
	useTLS := flag.Bool("tls", false, "Enable TLS")
	certFile := flag.String("cert", "certs/actord.crt", "TLS certificate file")
	keyFile := flag.String("key", "certs/actord.key", "TLS key file")
	generateCert := flag.Bool("generate-cert", false, "Generate a self-signed certificate and exit")
	otlpEndpoint := flag.String("otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP trace collector endpoint (empty disables tracing)")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	jsonLogs := flag.Bool("json-logs", false, "Emit logs as JSON")
	flag.Parse()

	log := logging.NewLogger(logging.ParseLevel(*logLevel), *jsonLogs)

	if *generateCert {
		if err := os.MkdirAll("certs", 0755); err != nil {
			log.Fatal("Failed to create certs directory", map[string]interface{}{"error": err.Error()})
		}
		if err := tlsutil.GenerateSelfSignedCert(*certFile, *keyFile, "actord"); err != nil {
			log.Fatal("Failed to generate certificate", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Certificate generated", map[string]interface{}{"cert": *certFile, "key": *keyFile})
		return
	}

	store, err := storage.NewStore(storage.Config{Type: *backend, DSN: *dsn})
	if err != nil {
		log.Fatal("Failed to open storage", map[string]interface{}{"backend": *backend, "error": err.Error()})
	}
	log.Info("Storage ready", map[string]interface{}{"backend": *backend})

	var tracer *tracing.Provider
	if *otlpEndpoint != "" {
		tracer, err = tracing.InitTracer(tracing.Config{
			ServiceName:  "actord",
			OTLPEndpoint: *otlpEndpoint,
			Enabled:      true,
		})
		if err != nil {
			log.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
		}
	}

	m := metrics.New()
	srv := platform.NewServer(platform.ServerConfig{
		Addr:         *addr,
		APIToken:     *apiToken,
		RateLimitRPS: *rateLimit,
		Logger:       log,
		Metrics:      m,
		Tracing:      tracer,
	}, store)

	sd := shutdown.New(30*time.Second, log)
	sd.Register(shutdown.CloseResource(store, "storage", log))
	sd.Register(shutdown.StopHTTPServer(srv, "platform api", log))
	if tracer != nil {
		sd.Register(func(ctx context.Context) error { return tracer.Shutdown(ctx) })
	}

	go func() {
		var err error
		if *useTLS {
			err = srv.StartTLS(*certFile, *keyFile)
		} else {
			err = srv.Start()
		}
		if err != nil {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sd.Wait()
	sd.Shutdown()
}
