package main

import (
	"context"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/telecare-platform/telecare/libs/config"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/libs/httpx"
	"github.com/telecare-platform/telecare/libs/kafkax"
	otelx "github.com/telecare-platform/telecare/libs/otel"
	"github.com/telecare-platform/telecare/libs/runtime"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/consumer"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/handlers"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/storage"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/stream"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "realtime-service")
	port, err := config.Port("PORT", "8084")
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

	readRepo := storage.NewReadRepository(pool)
	hub := subscriptions.NewHub(readRepo, logger, subscriptions.Config{
		ReconnectDelay: config.DurationSeconds("RECONNECT_DELAY_SECONDS", 2*time.Second),
		MaxAttempts:    config.Int("RECONNECT_MAX_ATTEMPTS", 5),
	})
	go hub.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "realtime-service")
	applyDelta := func(ctx context.Context, msg kafka.Message) error {
		delta, err := consumer.DecodeDelta(msg.Topic, msg.Value)
		if err != nil {
			logger.Error("undecodable appointment event", "topic", msg.Topic, "err", err)
			return nil
		}
		hub.Apply(delta)
		return nil
	}
	if brokers != "" {
		for _, topic := range []string{
			config.String("KAFKA_CREATED_TOPIC", "telecare.appointment.created.v1"),
			config.String("KAFKA_UPDATED_TOPIC", "telecare.appointment.updated.v1"),
			config.String("KAFKA_DELETED_TOPIC", "telecare.appointment.deleted.v1"),
		} {
			c := consumer.New(logger, consumer.Config{Brokers: brokers, GroupID: groupID, Topic: topic}, applyDelta)
			go c.Run(ctx)
		}
	}

	streamHandler := stream.NewHandler(hub, logger)
	feedHandler := handlers.NewFeedHandler(hub, readRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/stream/appointments", streamHandler.Appointments)
	mux.HandleFunc("/api/v1/stream/doctors", streamHandler.Doctors)
	mux.HandleFunc("/api/v1/stream/reconnect", streamHandler.Reconnect)
	mux.HandleFunc("/api/v1/stream/status", streamHandler.Status)
	mux.HandleFunc("/api/v1/feed/summary", feedHandler.Summary)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "realtime")
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
