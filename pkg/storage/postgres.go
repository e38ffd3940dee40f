package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/teamsquare/sentinelle/pkg/security"
)

const alertsSchema = `
CREATE TABLE IF NOT EXISTS security_alerts (
	id          TEXT PRIMARY KEY,
	alert_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	session_id  TEXT,
	details     JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS security_alerts_created_at_idx
	ON security_alerts (created_at DESC);
`

// PostgresArchive keeps every alert beyond the bounded in-memory history,
// for operator audit queries.
type PostgresArchive struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPostgresArchive connects and ensures the schema exists.
func NewPostgresArchive(ctx context.Context, dsn string, log *logrus.Logger) (*PostgresArchive, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, alertsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure alerts schema: %w", err)
	}
	return &PostgresArchive{pool: pool, log: log}, nil
}

// InsertAlert archives one alert. Duplicate ids are ignored so retried
// mirror writes stay idempotent.
func (a *PostgresArchive) InsertAlert(ctx context.Context, alert security.Alert) error {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO security_alerts (id, alert_type, severity, message, session_id, details, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		alert.ID, string(alert.Type), string(alert.Severity), alert.Message,
		alert.SessionID, details, alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive alert %s: %w", alert.ID, err)
	}
	return nil
}

// RecentAlerts returns archived alerts newer than the cutoff, newest first.
func (a *PostgresArchive) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]security.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.pool.Query(ctx, `
		SELECT id, alert_type, severity, message, COALESCE(session_id, ''), details, created_at
		FROM security_alerts
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var alerts []security.Alert
	for rows.Next() {
		var (
			alert      security.Alert
			typ, sev   string
			rawDetails []byte
		)
		if err := rows.Scan(&alert.ID, &typ, &sev, &alert.Message, &alert.SessionID, &rawDetails, &alert.Timestamp); err != nil {
			return nil, fmt.Errorf("scan archived alert: %w", err)
		}
		alert.Type = security.AlertType(typ)
		alert.Severity = security.ThreatLevel(sev)
		if len(rawDetails) > 0 {
			_ = json.Unmarshal(rawDetails, &alert.Details)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
