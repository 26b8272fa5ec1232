package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/models"
)

// Postgres wraps a postgres DB connection and stores the template catalog and
// campaign versions.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist. Component and
// campaign rows are never updated: every write inserts a new version.
const schemaSQL = `CREATE TABLE IF NOT EXISTS templates (
    template_id TEXT PRIMARY KEY,
    markup TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS template_components (
    id BIGSERIAL PRIMARY KEY,
    template_id TEXT NOT NULL REFERENCES templates(template_id),
    component_id TEXT NOT NULL,
    position INT NOT NULL,
    possible_values JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_records (
    id BIGSERIAL PRIMARY KEY,
    campaign_id TEXT NOT NULL,
    template_id TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    segments JSONB NOT NULL,
    click_url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_template_components_template ON template_components (template_id, component_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_campaign_records_pair ON campaign_records (campaign_id, template_id, created_at);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetTemplateComponents returns the latest version of each component of the
// template in decode order.
func (p *Postgres) GetTemplateComponents(ctx context.Context, templateID string) ([]models.ComponentDefinition, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT DISTINCT ON (component_id) component_id, position, possible_values, updated_at
FROM template_components
WHERE template_id = $1
ORDER BY component_id, updated_at DESC, id DESC`, templateID)
	if err != nil {
		return nil, models.Unavailable("query template components", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.ComponentDefinition
	for rows.Next() {
		c := models.ComponentDefinition{TemplateID: templateID}
		var values []byte
		if err := rows.Scan(&c.ComponentID, &c.Position, &values, &c.UpdatedAt); err != nil {
			return nil, models.Unavailable("scan template component", err)
		}
		if err := json.Unmarshal(values, &c.PossibleValues); err != nil {
			return nil, fmt.Errorf("%w: component %q possible_values: %v", models.ErrInvalidRecord, c.ComponentID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("rows error", err)
	}
	if len(out) == 0 {
		return nil, models.ErrNotFound
	}
	models.SortComponents(out)
	return out, nil
}

// GetCampaignRecords returns every version stored for the pair in insertion order.
func (p *Postgres) GetCampaignRecords(ctx context.Context, campaignID, templateID string) ([]models.CampaignRecord, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT campaign_id, template_id, active, segments, click_url, created_at
FROM campaign_records
WHERE campaign_id = $1 AND template_id = $2
ORDER BY id`, campaignID, templateID)
	if err != nil {
		return nil, models.Unavailable("query campaign records", err)
	}
	return scanCampaignRecords(rows)
}

// ListCampaignRecords returns every stored campaign version.
func (p *Postgres) ListCampaignRecords(ctx context.Context) ([]models.CampaignRecord, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT campaign_id, template_id, active, segments, click_url, created_at
FROM campaign_records
ORDER BY id`)
	if err != nil {
		return nil, models.Unavailable("query campaign records", err)
	}
	return scanCampaignRecords(rows)
}

func scanCampaignRecords(rows *sql.Rows) ([]models.CampaignRecord, error) {
	defer func() {
		_ = rows.Close()
	}()
	var out []models.CampaignRecord
	for rows.Next() {
		var r models.CampaignRecord
		var segments []byte
		if err := rows.Scan(&r.CampaignID, &r.TemplateID, &r.Active, &segments, &r.ClickURL, &r.CreatedAt); err != nil {
			return nil, models.Unavailable("scan campaign record", err)
		}
		if err := json.Unmarshal(segments, &r.Segments); err != nil {
			return nil, fmt.Errorf("%w: campaign %q segments: %v", models.ErrInvalidRecord, r.CampaignID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("rows error", err)
	}
	return out, nil
}

// PutTemplateComponent inserts a new component version, creating the template
// row on first use.
func (p *Postgres) PutTemplateComponent(ctx context.Context, c models.ComponentDefinition) error {
	return p.PutTemplateComponents(ctx, c.TemplateID, []models.ComponentDefinition{c})
}

// PutTemplateComponents inserts a version of every component in one
// transaction. Nothing is written when any component is invalid.
func (p *Postgres) PutTemplateComponents(ctx context.Context, templateID string, components []models.ComponentDefinition) error {
	batch, err := models.PrepareComponentBatch(templateID, components)
	if err != nil {
		return err
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Unavailable("begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO templates (template_id) VALUES ($1) ON CONFLICT (template_id) DO NOTHING`, templateID); err != nil {
		return models.Unavailable("insert template", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO template_components (template_id, component_id, position, possible_values, updated_at) VALUES ($1,$2,$3,$4,$5)`)
	if err != nil {
		return models.Unavailable("prepare template component insert", err)
	}
	defer stmt.Close()
	for _, c := range batch {
		values, err := json.Marshal(c.PossibleValues)
		if err != nil {
			return fmt.Errorf("marshal possible_values: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.TemplateID, c.ComponentID, c.Position, values, c.UpdatedAt); err != nil {
			return models.Unavailable("insert template component", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Unavailable("commit template components", err)
	}
	return nil
}

// PutCampaignRecord appends a campaign version.
func (p *Postgres) PutCampaignRecord(ctx context.Context, r models.CampaignRecord) error {
	r = r.Clone()
	if err := r.Validate(); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	// TIMESTAMPTZ keeps microseconds.
	r.CreatedAt = r.CreatedAt.Truncate(time.Microsecond)
	segments, err := json.Marshal(r.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO campaign_records (campaign_id, template_id, active, segments, click_url, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		r.CampaignID, r.TemplateID, r.Active, segments, r.ClickURL, r.CreatedAt)
	return models.Unavailable("insert campaign record", err)
}

// GetTemplateMarkup returns the template's markup. A template without markup
// reports ErrNotFound.
func (p *Postgres) GetTemplateMarkup(ctx context.Context, templateID string) (string, error) {
	var markup string
	err := p.DB.QueryRowContext(ctx, `SELECT markup FROM templates WHERE template_id = $1`, templateID).Scan(&markup)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && markup == "") {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", models.Unavailable("query template markup", err)
	}
	return markup, nil
}

// PutTemplateMarkup upserts the template's markup.
func (p *Postgres) PutTemplateMarkup(ctx context.Context, templateID, markup string) error {
	if templateID == "" {
		return models.ErrInvalidRecord
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO templates (template_id, markup, updated_at) VALUES ($1,$2,NOW())
ON CONFLICT (template_id) DO UPDATE SET markup = EXCLUDED.markup, updated_at = EXCLUDED.updated_at`, templateID, markup)
	return models.Unavailable("upsert template markup", err)
}

// ListTemplateIDs returns every known template id in sorted order along with
// whether it has markup.
func (p *Postgres) ListTemplateIDs(ctx context.Context) (ids []string, withMarkup map[string]bool, err error) {
	var all, marked []string
	err = p.DB.QueryRowContext(ctx, `SELECT
    COALESCE(array_agg(template_id ORDER BY template_id), '{}'),
    COALESCE(array_agg(template_id) FILTER (WHERE markup <> ''), '{}')
FROM templates`).Scan(pq.Array(&all), pq.Array(&marked))
	if err != nil {
		return nil, nil, models.Unavailable("list templates", err)
	}
	withMarkup = make(map[string]bool, len(marked))
	for _, id := range marked {
		withMarkup[id] = true
	}
	return all, withMarkup, nil
}

// ListInventory summarises every template and campaign.
func (p *Postgres) ListInventory(ctx context.Context) (models.Inventory, error) {
	ids, withMarkup, err := p.ListTemplateIDs(ctx)
	if err != nil {
		return models.Inventory{}, err
	}
	inv := models.Inventory{Templates: make([]models.TemplateSummary, 0, len(ids))}
	for _, id := range ids {
		components, err := p.GetTemplateComponents(ctx, id)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.Inventory{}, err
		}
		inv.Templates = append(inv.Templates, models.NewTemplateSummary(id, components, withMarkup[id]))
	}

	records, err := p.ListCampaignRecords(ctx)
	if err != nil {
		return models.Inventory{}, err
	}
	type pair struct{ campaign, template string }
	grouped := make(map[pair][]models.CampaignRecord)
	var order []pair
	for _, r := range records {
		k := pair{r.CampaignID, r.TemplateID}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}
	inv.Campaigns = make([]models.CampaignSummary, 0, len(order))
	for _, k := range order {
		inv.Campaigns = append(inv.Campaigns, models.NewCampaignSummary(grouped[k]))
	}
	models.SortInventory(&inv)
	return inv, nil
}
