package main

import (
	"booking-service/internal/calendar"
	"booking-service/internal/config"
	availGet "booking-service/internal/http-server/handlers/availability/get"
	availSet "booking-service/internal/http-server/handlers/availability/set"
	bookingCreate "booking-service/internal/http-server/handlers/bookings/create"
	bookingGet "booking-service/internal/http-server/handlers/bookings/get"
	slotsGet "booking-service/internal/http-server/handlers/slots/get"
	userGet "booking-service/internal/http-server/handlers/users/get"
	"booking-service/internal/http-server/mw"
	"booking-service/internal/lock"
	"booking-service/internal/notify"
	"booking-service/internal/outbox"
	"booking-service/internal/schedule"
	svc "booking-service/internal/service"
	"booking-service/internal/storage/postgres"
	"booking-service/pkg/handlers/slogpretty"
	"booking-service/pkg/middleware/mwLogger"
	"booking-service/pkg/sl"
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	storage, err := postgres.New(cfg.StoragePath)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	locker, err := lock.NewRedisLock(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to init redis lock", sl.Err(err))
		os.Exit(1)
	}

	calendarCfg := calendar.NewConfig(cfg.Calendar.ClientID, cfg.Calendar.ClientSecret, cfg.Calendar.QueryTimeout)
	busySource := calendar.NewSource(calendarCfg, storage)

	resolver := schedule.NewResolver(
		storage, storage, busySource,
		cfg.Booking.SlotDuration,
		cfg.Calendar.ValidationPolicy == config.PolicyFailClosed,
		log,
	)

	service := svc.NewService(storage, resolver, resolver, locker, cfg.Booking.SlotDuration, log)

	sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.Email.SendGridKey,
		FromEmail: cfg.Email.FromEmail,
		FromName:  cfg.Email.FromName,
	}, log)
	if sender == nil {
		log.Warn("SendGrid not configured, notifications disabled")
	}

	dispatcher := outbox.NewDispatcher(storage, calendarCfg, senderOrNil(sender), log).
		WithPollInterval(cfg.Outbox.PollInterval).
		WithMaxAttempts(cfg.Outbox.MaxAttempts).
		WithBaseDelay(cfg.Outbox.BaseDelay).
		WithBatchSize(cfg.Outbox.BatchSize)

	outboxCtx, stopOutbox := context.WithCancel(context.Background())
	go dispatcher.Run(outboxCtx)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(CORS)

	// Public widget surface
	router.Get("/api/slots", slotsGet.New(log, service))
	router.Post("/api/bookings", bookingCreate.New(log, service))

	// Operator surface
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(log, cfg.JWTSecret))
		r.Get("/api/availability", availGet.New(log, service))
		r.Post("/api/availability", availSet.New(log, service))
		r.Get("/api/user", userGet.New(log, service))
		r.Get("/api/bookings", bookingGet.New(log, service))
	})

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	stopOutbox()

	if storage != nil {
		if err := storage.Close(); err != nil {
			log.Error("Failed to close storage", sl.Err(err))
		} else {
			log.Info("Storage closed")
		}
	}

	if locker != nil {
		if err := locker.Close(); err != nil {
			log.Error("Failed to close locker", sl.Err(err))
		} else {
			log.Info("Locker closed")
		}
	}

	log.Info("Shutdown finished, server stopped")

}

// senderOrNil avoids handing the dispatcher a typed nil behind the Sender
// interface.
func senderOrNil(s *notify.SendGridSender) notify.Sender {
	if s == nil {
		return nil
	}
	return s
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
