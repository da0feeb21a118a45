package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cart144/dil/pkg/checks"
	"github.com/cart144/dil/pkg/httpx"
	"github.com/cart144/dil/pkg/metrics"
	"github.com/cart144/dil/pkg/receiptbus"
	"github.com/cart144/dil/pkg/store"
	"github.com/cart144/dil/pkg/stream"
	"github.com/cart144/dil/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Server struct {
	Receipts            *store.ReceiptStore
	Cache               store.Cache
	CacheTTL            time.Duration
	Hub                 *stream.Hub
	Metrics             *metrics.Registry
	Publisher           *receiptbus.Publisher
	Runner              *checks.Runner
	MaxRequestBodyBytes int64

	now   func() time.Time
	newID func() string
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        func(context.Context) (store.DB, func(), error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runValidator(initTelemetryFn, openDBFn, listenFn); err != nil {
		logFatalf("dil-validator: %v", err)
	}
}

func runValidator(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openDB func(context.Context) (store.DB, func(), error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = func(ctx context.Context) (store.DB, func(), error) {
			pool, err := store.NewPostgresPool(ctx)
			if err != nil {
				return nil, nil, err
			}
			return pool, pool.Close, nil
		}
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "dil-validator")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	s := &Server{
		Hub:                 stream.NewHub(),
		Metrics:             metrics.NewRegistry(),
		Runner:              checks.NewRunner(),
		CacheTTL:            time.Second * time.Duration(envInt("REPORT_CACHE_TTL_SEC", 300)),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		now:                 func() time.Time { return time.Now().UTC() },
		newID:               func() string { return uuid.NewString() },
	}
	s.Runner.HTTPClient = telemetry.InstrumentClient(&http.Client{})

	if env("PERSISTENCE", "off") == "postgres" {
		db, closeDB, err := openDB(ctx)
		if err != nil {
			return err
		}
		if closeDB != nil {
			defer closeDB()
		}
		s.Receipts = &store.ReceiptStore{DB: db}
		if err := s.Receipts.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	redisClient, err := store.NewRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, using memory cache: %v", err)
	}
	s.Cache = store.NewCache(ctx, redisClient)

	if brokers := env("KAFKA_BROKERS", ""); brokers != "" {
		pub, err := receiptbus.NewPublisher(receiptbus.Config{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("KAFKA_TOPIC", "dil.receipts"),
		})
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		s.Publisher = pub
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("dil-validator"))
	r.Use(httpx.BodyLimitMiddleware(s.MaxRequestBodyBytes))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "dil-validator"})
	})
	r.Get("/metricsz", s.Metrics.Handler())
	r.Post("/v1/validate", s.validate)
	r.Post("/v1/verify", s.verify)
	r.Get("/v1/receipts/{id}", s.getReceipt)
	r.Get("/v1/events", s.events)

	addr := env("ADDR", ":8084")
	log.Printf("dil-validator listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 120),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
