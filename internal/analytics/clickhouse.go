package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/dcoserve/internal/models"
)

// EventLog is the append-only store for impression and click events.
type EventLog interface {
	PutEvent(ctx context.Context, e models.Event) error
	ListEvents(ctx context.Context, campaignID, templateID string) ([]models.Event, error)
}

var _ EventLog = (*Analytics)(nil)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("%w: analytics not configured", models.ErrStorageUnavailable)

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB *sql.DB
}

// timestampPrecision is the DateTime64 scale of dco_events.timestamp. Nine
// digits keeps the nanosecond timestamps events are stamped with.
const timestampPrecision = 9

var createEventsTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dco_events (
    event_id     UUID,
    timestamp    DateTime64(%d, 'UTC'),
    event_type   LowCardinality(String),
    campaign_id  String,
    template_id  String,
    ad_id        String,
    segment_id   String,
    device_type  LowCardinality(String),
    country      LowCardinality(String)
) ENGINE=MergeTree() ORDER BY (campaign_id, template_id, timestamp)`, timestampPrecision)

// columnResolution is the smallest duration the timestamp column can hold.
func columnResolution() time.Duration {
	d := time.Second
	for i := 0; i < timestampPrecision && d > time.Nanosecond; i++ {
		d /= 10
	}
	return d
}

// storedTimestamp is t as the events table stores it.
func storedTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(columnResolution())
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createEventsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse", zap.Int("max_open_conns", maxOpenConns))
	return &Analytics{DB: db}, nil
}

// PutEvent inserts a single event row.
func (a *Analytics) PutEvent(ctx context.Context, e models.Event) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if err := e.Validate(); err != nil {
		return err
	}
	stmt := `INSERT INTO dco_events (event_id, timestamp, event_type, campaign_id, template_id, ad_id, segment_id, device_type, country) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, e.EventID, storedTimestamp(e.Timestamp), string(e.Type), e.CampaignID, e.TemplateID, e.AdID, e.SegmentID, e.DeviceType, e.Country); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", string(e.Type)))
		return models.Unavailable(fmt.Sprintf("insert %s event", e.Type), err)
	}
	return nil
}

// ListEvents returns the events of the pair ordered by timestamp.
func (a *Analytics) ListEvents(ctx context.Context, campaignID, templateID string) ([]models.Event, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT toString(event_id), timestamp, event_type, campaign_id, template_id, ad_id, segment_id, device_type, country
FROM dco_events WHERE campaign_id = ? AND template_id = ? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, campaignID, templateID)
	if err != nil {
		return nil, models.Unavailable("query events", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var typ string
		if err := rows.Scan(&e.EventID, &e.Timestamp, &typ, &e.CampaignID, &e.TemplateID, &e.AdID, &e.SegmentID, &e.DeviceType, &e.Country); err != nil {
			return nil, models.Unavailable("scan event", err)
		}
		e.Type = models.EventType(typ)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("rows error", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// IsUnavailable reports whether err means the event log could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, models.ErrStorageUnavailable)
}
