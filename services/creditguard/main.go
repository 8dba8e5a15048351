package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"creditguard/pkg/dataset"
	"creditguard/pkg/drift"
	otelobs "creditguard/pkg/observability/otel"
	"creditguard/pkg/scoring"
)

const (
	serviceName = "creditguard"
	version     = "1.0.0"
)

func main() {
	port := getenvInt("PORT", 8000)
	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"), ",")

	shutdownTracer := otelobs.InitTracer(serviceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	httpClient := &http.Client{
		Timeout:   time.Duration(getenvInt("DATASET_FETCH_TIMEOUT_SEC", 30)) * time.Second,
		Transport: otelobs.WrapHTTPTransport(nil),
	}
	fetcher := dataset.NewFetcher(
		getenv("OPENML_BASE_URL", "https://www.openml.org"),
		dataset.WithHTTPClient(httpClient),
		dataset.WithAttempts(getenvInt("DATASET_FETCH_ATTEMPTS", 2)),
	)

	svc := scoring.New(scoring.DefaultConfig(fetcher))

	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	monitor := drift.NewMonitor(rdb,
		getenvFloat("DRIFT_KS_THRESHOLD", 0.05),
		getenvInt("DRIFT_WINDOW_SIZE", 1000))
	svc.OnVector(func(names []string, vec []float64) {
		monitor.Observe(context.Background(), names, vec)
	})

	if getenvBool("TRAIN_ON_START", false) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := svc.Ensure(ctx); err != nil {
				log.Printf("[%s] warm-up training failed: %v", serviceName, err)
			}
		}()
	}

	api := newAPIServer(svc, monitor, origins, version)
	handler := otelobs.WrapHTTPHandler(serviceName, otelobs.AccessLogMiddleware(api.routes()))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[%s] listening on :%d", serviceName, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[%s] server error: %v", serviceName, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[%s] shutting down", serviceName)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[%s] shutdown error: %v", serviceName, err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
