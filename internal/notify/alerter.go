// Package notify turns a finished report into alerts and delivers them to a
// webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aipriceaction/mirrorsync/internal/config"
	"github.com/aipriceaction/mirrorsync/internal/model"
	"github.com/aipriceaction/mirrorsync/internal/report"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDatasetUnavailable AlertType = "dataset_unavailable"
	AlertUnresolved         AlertType = "unresolved_discrepancies"
	AlertMigrationFailure   AlertType = "migration_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Dataset   model.Dataset  `json:"dataset"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a report and posts alerts to the configured webhook.
type Alerter struct {
	cfg    config.NotifyConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given notify config.
func NewAlerter(cfg config.NotifyConfig) *Alerter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// Evaluate returns the alerts raised by r, in dataset order.
func (a *Alerter) Evaluate(r *report.Report) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	for _, d := range r.Datasets {
		if d.Error != "" {
			alerts = append(alerts, Alert{
				Type:      AlertDatasetUnavailable,
				Severity:  "high",
				Dataset:   d.Dataset,
				Message:   fmt.Sprintf("%s dataset could not be fully checked: %s", d.Label, d.Error),
				Timestamp: now,
			})
		}

		var missing, stale, orphaned int
		for _, c := range d.Intervals {
			missing += c.Missing - c.Resolved
			stale += c.Stale
			orphaned += c.Orphaned
		}
		if total := missing + stale + orphaned; total > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertUnresolved,
				Severity: "medium",
				Dataset:  d.Dataset,
				Message: fmt.Sprintf("%s: %d unresolved discrepancies (%d missing, %d stale, %d orphaned)",
					d.Label, total, missing, stale, orphaned),
				Details: map[string]any{
					"run_id":   r.RunID,
					"mode":     string(r.Mode),
					"missing":  missing,
					"stale":    stale,
					"orphaned": orphaned,
				},
				Timestamp: now,
			})
		}

		for _, m := range d.Migrations {
			if m.Status != model.MigrationFailed && m.Status != model.MigrationTimedOut {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertMigrationFailure,
				Severity: "high",
				Dataset:  d.Dataset,
				Message:  fmt.Sprintf("%s: %s migration of %d series %s", d.Label, m.Interval, m.Series, m.Status),
				Details: map[string]any{
					"interval": string(m.Interval),
					"error":    m.Error,
				},
				Timestamp: now,
			})
		}
	}
	return alerts
}

// Send delivers alerts to the webhook and returns how many were accepted.
// Delivery failures are logged, never returned.
func (a *Alerter) Send(ctx context.Context, alerts []Alert) int {
	if !a.Enabled() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("notify: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("dataset", string(alert.Dataset)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
