package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/zaferemre/clinic-app/libs/config"
	"github.com/zaferemre/clinic-app/libs/db"
	"github.com/zaferemre/clinic-app/libs/httpx"
	"github.com/zaferemre/clinic-app/libs/kafkax"
	otelx "github.com/zaferemre/clinic-app/libs/otel"
	"github.com/zaferemre/clinic-app/libs/runtime"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/consumer"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/directory"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/engine"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/handlers"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/outbox"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	store := storage.New(pool)
	dir := buildDirectory(pool, logger)
	eng := engine.New(store, dir, logger, storage.IsConflict)

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		creditConsumer := consumer.New(logger, eng, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
		})
		go creditConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewAppointmentHandler(eng, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// buildDirectory prefers the remote employee directory when a gRPC address
// is configured and the stubs are compiled in; otherwise employees are read
// from the local tables.
func buildDirectory(pool *db.Pool, logger *slog.Logger) directory.Provider {
	if addr := config.String("DIRECTORY_GRPC_ADDR", ""); addr != "" {
		remote, err := directory.NewRemoteProvider(addr)
		if err != nil {
			logger.Error("remote directory init failed; using local tables", "err", err)
		} else if remote != nil {
			return remote
		}
	}
	return directory.NewPGProvider(pool)
}
