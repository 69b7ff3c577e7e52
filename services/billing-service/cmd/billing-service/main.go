package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/telecare-platform/telecare/libs/config"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/libs/httpx"
	"github.com/telecare-platform/telecare/libs/kafkax"
	otelx "github.com/telecare-platform/telecare/libs/otel"
	"github.com/telecare-platform/telecare/libs/runtime"
	"github.com/telecare-platform/telecare/services/billing-service/internal/consumer"
	"github.com/telecare-platform/telecare/services/billing-service/internal/handlers"
	"github.com/telecare-platform/telecare/services/billing-service/internal/inbox"
	"github.com/telecare-platform/telecare/services/billing-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/billing-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8086")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Booked appointments open a pending payment; cancellations void it.
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "billing-service")
	startConsumer := func(topic string, handler consumer.Handler) {
		if brokers == "" || topic == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{Brokers: brokers, GroupID: groupID, Topic: topic}, handler)
		go c.Run(ctx)
	}

	type appointmentEvent struct {
		AppointmentID string `json:"appointment_id"`
		PatientID     string `json:"patient_id"`
		FeeCents      int64  `json:"fee_cents"`
		Status        string `json:"status"`
	}
	currency := config.String("BILLING_CURRENCY", "eur")

	startConsumer(config.String("KAFKA_CREATED_TOPIC", "telecare.appointment.created.v1"), func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.AppointmentID == "" {
			logger.Error("invalid created event", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.FeeCents <= 0 {
			return nil
		}
		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := repo.UpsertPending(ctx, tx, evt.AppointmentID, evt.PatientID, evt.FeeCents, currency); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	voidPayment := func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.AppointmentID == "" {
			logger.Error("invalid appointment event", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.Status != "" && evt.Status != "cancelled" {
			return nil
		}
		tx, err := repo.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := repo.MarkVoid(ctx, tx, evt.AppointmentID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	startConsumer(config.String("KAFKA_UPDATED_TOPIC", "telecare.appointment.updated.v1"), voidPayment)
	startConsumer(config.String("KAFKA_DELETED_TOPIC", "telecare.appointment.deleted.v1"), voidPayment)

	billingHandler := handlers.New(repo, outboxRepo, logger, handlers.Config{
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
		Currency:                      currency,
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/billing/checkout", billingHandler.Checkout)
	mux.HandleFunc("/api/v1/billing/payment", billingHandler.PaymentStatus)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", billingHandler.StripeWebhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "billing")
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
