package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/careteam/internal/database"
	"github.com/charlesng35/careteam/internal/notify"
	"github.com/charlesng35/careteam/internal/sms"
	"github.com/charlesng35/careteam/pkg/mail"
	"github.com/charlesng35/careteam/pkg/tracing"
)

// DatabaseSettings converts DatabaseConfig into database.Config.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(c.Postgres.Host)
		dbCfg.Port = c.Postgres.Port
		dbCfg.Name = strings.TrimSpace(c.Postgres.Database)
		dbCfg.User = strings.TrimSpace(c.Postgres.Username)
		dbCfg.Password = c.Postgres.Password
	case "mysql":
		dbCfg.Host = strings.TrimSpace(c.MySQL.Host)
		dbCfg.Port = c.MySQL.Port
		dbCfg.Name = strings.TrimSpace(c.MySQL.Database)
		dbCfg.User = strings.TrimSpace(c.MySQL.Username)
		dbCfg.Password = c.MySQL.Password
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

// NewDispatcher picks the invitation delivery channel: SMTP when enabled,
// otherwise the webhook when a URL is set, otherwise none.
func NewDispatcher(cfg *Config) (notify.Dispatcher, error) {
	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		return notify.NewMailDispatcher(mailer, cfg.Email.SMTP.From)
	}

	if strings.TrimSpace(cfg.Notifications.Webhook.URL) != "" {
		return notify.NewWebhookDispatcher(notify.WebhookConfig{
			URL:     cfg.Notifications.Webhook.URL,
			Secret:  cfg.Notifications.Webhook.Secret,
			Timeout: cfg.Notifications.Webhook.Timeout,
			Retries: cfg.Notifications.Webhook.Retries,
		})
	}

	return notify.NopDispatcher{}, nil
}

// NewSMSVerifier returns nil when no gateway is configured; SMS backup is then unavailable.
func NewSMSVerifier(cfg SMSConfig) (sms.Verifier, error) {
	if strings.TrimSpace(cfg.Gateway.URL) == "" {
		return nil, nil
	}
	client, err := sms.NewGatewayClient(sms.GatewayConfig{
		URL:     cfg.Gateway.URL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// TracingSettings converts TracingConfig into the tracing package representation.
func (c TracingConfig) TracingSettings(version string) tracing.Config {
	return tracing.Config{
		Enabled:        c.Enabled,
		ServiceName:    strings.TrimSpace(c.ServiceName),
		ServiceVersion: version,
		Endpoint:       strings.TrimSpace(c.Endpoint),
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}
