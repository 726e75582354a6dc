// Package provconfig persists the external feed provider's connection
// settings (api_url, ws_url, api_key, webhook_secret) in the
// provider_config row, so an admin can rotate credentials at runtime.
// The symbol-lookup client and the /price-stream gate use the new values
// at once; the ingest feed keeps the token it was started with until the
// process restarts.
package provconfig

import (
	"context"
	"database/sql"
	"time"

	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/domain"
)

// Record is the persisted provider_config row.
type Record struct {
	APIURL                 string
	WSURL                  string
	APIKey                 string
	WebhookSecret          string
	APIKeyUpdatedAt        *time.Time
	WebhookSecretUpdatedAt *time.Time
}

// Public is Record with secrets redacted to a boolean presence flag, the
// shape GET /admin/provider-config returns.
type Public struct {
	APIURL                 string     `json:"api_url"`
	WSURL                  string     `json:"ws_url"`
	HasAPIKey              bool       `json:"has_api_key"`
	HasWebhookSecret       bool       `json:"has_webhook_secret"`
	APIKeyUpdatedAt        *time.Time `json:"api_key_updated_at,omitempty"`
	WebhookSecretUpdatedAt *time.Time `json:"webhook_secret_updated_at,omitempty"`
}

func (r Record) Redact() Public {
	return Public{
		APIURL:                 r.APIURL,
		WSURL:                  r.WSURL,
		HasAPIKey:              r.APIKey != "",
		HasWebhookSecret:       r.WebhookSecret != "",
		APIKeyUpdatedAt:        r.APIKeyUpdatedAt,
		WebhookSecretUpdatedAt: r.WebhookSecretUpdatedAt,
	}
}

// Repository reads and writes the single provider_config row (id=1).
type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Bootstrap ensures the provider_config row exists, seeding it from
// defaultAPIURL/defaultWSURL/envAPIKey/envWebhookSecret when absent. A
// persisted row is never overwritten — env values are bootstrap-only.
func (r *Repository) Bootstrap(ctx context.Context, defaultAPIURL, defaultWSURL, envAPIKey, envWebhookSecret string) error {
	_, err := r.db.Conn.ExecContext(ctx,
		`INSERT INTO provider_config (id, api_url, ws_url, api_key, webhook_secret, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		defaultAPIURL, defaultWSURL, envAPIKey, envWebhookSecret, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewError(domain.Serialization, "bootstrap provider config", err)
	}
	return nil
}

// Get returns the current provider_config row.
func (r *Repository) Get(ctx context.Context) (Record, error) {
	row := r.db.Conn.QueryRowContext(ctx,
		`SELECT api_url, ws_url, api_key, webhook_secret, api_key_updated_at, webhook_secret_updated_at
		 FROM provider_config WHERE id = 1`,
	)

	var rec Record
	var apiURL, wsURL, apiKey, webhookSecret sql.NullString
	var apiKeyUpdated, webhookSecretUpdated sql.NullString
	if err := row.Scan(&apiURL, &wsURL, &apiKey, &webhookSecret, &apiKeyUpdated, &webhookSecretUpdated); err != nil {
		return Record{}, domain.NewError(domain.Configuration, "load provider config", err)
	}
	rec.APIURL = apiURL.String
	rec.WSURL = wsURL.String
	rec.APIKey = apiKey.String
	rec.WebhookSecret = webhookSecret.String
	if t, ok := parseTimestamp(apiKeyUpdated); ok {
		rec.APIKeyUpdatedAt = &t
	}
	if t, ok := parseTimestamp(webhookSecretUpdated); ok {
		rec.WebhookSecretUpdatedAt = &t
	}
	return rec, nil
}

// Update applies a partial update: a nil field leaves the existing value
// untouched, matching the provider's "only update what's provided"
// semantics.
func (r *Repository) Update(ctx context.Context, apiKey, webhookSecret *string) (Record, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if apiKey != nil {
		if _, err := r.db.Conn.ExecContext(ctx,
			`UPDATE provider_config SET api_key = ?, api_key_updated_at = ?, updated_at = ? WHERE id = 1`,
			*apiKey, now, now,
		); err != nil {
			return Record{}, domain.NewError(domain.Serialization, "update provider api key", err)
		}
	}
	if webhookSecret != nil {
		if _, err := r.db.Conn.ExecContext(ctx,
			`UPDATE provider_config SET webhook_secret = ?, webhook_secret_updated_at = ?, updated_at = ? WHERE id = 1`,
			*webhookSecret, now, now,
		); err != nil {
			return Record{}, domain.NewError(domain.Serialization, "update provider webhook secret", err)
		}
	}
	return r.Get(ctx)
}

func parseTimestamp(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
