package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"passkeygate/audit"
	"passkeygate/config"
	"passkeygate/kv"
	"passkeygate/passkey"
	"passkeygate/telemetry"
)

// Define a custom type for context keys to avoid collisions.
type key int

const (
	// requestIDKey is used to store the request ID in the context.
	requestIDKey key = 0
)

// withRequestID middleware adds a unique request ID to the context.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestIDKey, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs basic request information and execution time.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)
		reqID, _ := r.Context().Value(requestIDKey).(string)
		log.Printf("RequestID=%s Method=%s URL=%s Duration=%s", reqID, r.Method, r.URL.Path, duration)
	})
}

// recoveryMiddleware catches panics in downstream handlers and returns a 500 error.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Recovered from panic: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func newStore(cfg config.Config) (kv.Store, error) {
	if cfg.RedisAddr == "" {
		log.Println("No redis address configured, using in-memory store")
		return kv.NewMemoryStore(), nil
	}
	return kv.NewRedisStore(kv.RedisConfig{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "passkeygate", cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}
	defer store.Close()

	var emitter audit.Emitter
	if len(cfg.KafkaBrokers) > 0 {
		producer := audit.NewProducer(audit.NewDefaultProducerConfig(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer producer.Close()
		emitter = producer
	}

	service := passkey.NewService(passkey.NewStore(store), cfg.RPName, emitter)
	handlers := passkey.NewHandlers(service)

	mux := http.NewServeMux()
	handlers.Register(mux)

	// Chain the middlewares: Recovery -> RequestID -> Logging -> Mux.
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = withRequestID(handler)
	handler = recoveryMiddleware(handler)
	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "passkey")
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server
	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
}
