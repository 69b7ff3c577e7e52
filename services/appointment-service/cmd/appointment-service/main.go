package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/telecare-platform/telecare/libs/config"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/libs/httpx"
	"github.com/telecare-platform/telecare/libs/kafkax"
	otelx "github.com/telecare-platform/telecare/libs/otel"
	"github.com/telecare-platform/telecare/libs/runtime"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/appointments"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/consumer"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/directory"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/handlers"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/inbox"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "appointment-service")
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

	repo := storage.NewAppointmentRepository(pool)
	doctorRepo := storage.NewDoctorRepository(pool)
	localStore := storage.NewLocalStore()
	outboxRepo := outbox.NewRepository(pool)

	roster, err := directory.NewRosterProvider(logger, doctorRepo, config.String("ROSTER_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("roster provider init failed; using local directory", "err", err)
		roster = directory.NewRepoProvider(doctorRepo)
	}

	svc := appointments.NewService(repo, doctorRepo, localStore, outboxRepo, roster, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Payment confirmations flow back from billing; a paid appointment moves
	// from scheduled to confirmed.
	inboxRepo := inbox.NewRepository(pool)
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		paymentConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "appointment-service"),
			Topic:   config.String("KAFKA_PAYMENT_TOPIC", "telecare.payment.completed.v1"),
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				AppointmentID string `json:"appointment_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid payment event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.AppointmentID == "" {
				logger.Error("payment event missing appointment_id", "topic", msg.Topic)
				return nil
			}
			if err := svc.ConfirmPaid(ctx, payload.AppointmentID); err != nil {
				if errors.Is(err, appointments.ErrNotFound) {
					logger.Warn("payment for unknown appointment", "appointment_id", payload.AppointmentID)
					return nil
				}
				return err
			}
			return nil
		})
		go paymentConsumer.Run(ctx)
	}

	apptHandler := handlers.NewAppointmentHandler(svc, logger)
	treatmentHandler := handlers.NewTreatmentHandler(storage.NewTreatmentRepository(pool), repo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/appointments", apptHandler.List)
	mux.HandleFunc("/api/v1/appointments/get", apptHandler.Get)
	mux.HandleFunc("/api/v1/appointments/create", apptHandler.Create)
	mux.HandleFunc("/api/v1/appointments/update", apptHandler.Update)
	mux.HandleFunc("/api/v1/appointments/delete", apptHandler.Delete)
	mux.HandleFunc("/api/v1/appointments/slots", apptHandler.Slots)
	mux.HandleFunc("/api/v1/appointments/calendar", apptHandler.Calendar)
	mux.HandleFunc("/api/v1/doctors", apptHandler.Doctors)
	mux.HandleFunc("/api/v1/treatments", treatmentHandler.List)
	mux.HandleFunc("/api/v1/treatments/create", treatmentHandler.Create)
	mux.HandleFunc("/api/v1/treatments/update", treatmentHandler.UpdateStatus)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointment")
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
