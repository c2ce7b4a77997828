// Package config содержит логику чтения конфигурации библиотечного сервиса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации библиотечного сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	PaymentAddress    string `env:"PAYMENT_SYSTEM_ADDRESS"`
	PaymentSecretKey  string `env:"PAYMENT_SECRET_KEY"`
	PaymentSuccessURL string `env:"PAYMENT_SUCCESS_URL"`
	PaymentCancelURL  string `env:"PAYMENT_CANCEL_URL"`

	TelegramAddress    string `env:"TELEGRAM_API_ADDRESS"`
	TelegramBotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramWebhookURL string `env:"TELEGRAM_WEBHOOK_URL"`

	AuthSecret string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAddress := cfg.PaymentAddress
	envTelegramAddress := cfg.TelegramAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentAddress, "p", "https://api.stripe.com", "payment system address")
	flag.StringVar(&cfg.TelegramAddress, "t", "https://api.telegram.org", "telegram API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentAddress = envPaymentAddress
	}
	if envTelegramAddress != "" {
		cfg.TelegramAddress = envTelegramAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PaymentSuccessURL == "" {
		cfg.PaymentSuccessURL = "http://" + cfg.RunAddress + "/api/payments/success"
	}
	if cfg.PaymentCancelURL == "" {
		cfg.PaymentCancelURL = "http://" + cfg.RunAddress + "/api/payments/cancel"
	}

	return cfg, nil
}
