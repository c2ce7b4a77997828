// Package main запускает HTTP-сервер библиотечного сервиса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/library-system/internal/config"
	"github.com/mmeshcher/library-system/internal/handler"
	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/payment"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/service"
	"github.com/mmeshcher/library-system/internal/telegram"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var gateway service.PaymentGateway
	if cfg.PaymentAddress != "" && cfg.PaymentSecretKey != "" {
		gateway = payment.NewClient(cfg.PaymentAddress, cfg.PaymentSecretKey, cfg.PaymentSuccessURL, cfg.PaymentCancelURL)
	} else {
		sugar.Warn("payment system is not configured, checkout sessions are disabled")
	}

	var notifier service.Notifier
	var botClient *telegram.Client
	if cfg.TelegramBotToken != "" {
		botClient = telegram.NewClient(cfg.TelegramAddress, cfg.TelegramBotToken)
		notifier = botClient
	}

	svc := service.NewService(repo, gateway, notifier, logger)

	authSecret := cfg.AuthSecret
	if authSecret == "" {
		authSecret = "library-secret"
	}
	authMiddleware := middleware.NewAuthMiddleware(authSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	// Регистрация вебхука у Telegram, чтобы бот начал получать обновления.
	// Сбой регистрации не мешает запуску: привязку можно выполнить позже вручную.
	if botClient != nil && cfg.TelegramWebhookURL != "" {
		webhookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := botClient.SetWebhook(webhookCtx, cfg.TelegramWebhookURL); err != nil {
			sugar.Warnw("telegram webhook registration failed", "error", err.Error())
		} else {
			sugar.Infow("telegram webhook registered", "url", cfg.TelegramWebhookURL)
		}
		cancel()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновых уведомлений о просроченных выдачах
	g.Go(func() error {
		svc.StartOverdueNotifications(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting library server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
