package main

import (
	"fmt"
	"os"
	"time"
)

type config struct {
	Addr      string
	ProjectID string

	TossSecretKey     string
	TossWebhookSecret string

	TriggerToken string
	RunInterval  time.Duration

	BrevoAPIKey      string
	BrevoFromEmail   string
	BrevoFromName    string
	BrevoReportEmail string
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:              getenv("REBILL_ADDR", ":8080"),
		ProjectID:         os.Getenv("GOOGLE_CLOUD_PROJECT"),
		TossSecretKey:     os.Getenv("TOSS_SECRET_KEY"),
		TossWebhookSecret: os.Getenv("TOSS_WEBHOOK_SECRET"),
		TriggerToken:      os.Getenv("REBILL_TRIGGER_TOKEN"),
		BrevoAPIKey:       os.Getenv("BREVO_API_KEY"),
		BrevoFromEmail:    os.Getenv("BREVO_FROM_EMAIL"),
		BrevoFromName:     getenv("BREVO_FROM_NAME", "Billing"),
		BrevoReportEmail:  os.Getenv("BREVO_REPORT_EMAIL"),
	}

	if raw := os.Getenv("REBILL_RUN_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid REBILL_RUN_INTERVAL %q: %w", raw, err)
		}
		cfg.RunInterval = d
	}

	if cfg.ProjectID == "" {
		return cfg, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
	}
	if cfg.TossSecretKey == "" {
		return cfg, fmt.Errorf("TOSS_SECRET_KEY is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
