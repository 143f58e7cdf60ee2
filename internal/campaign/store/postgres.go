// Package store implements campaign.RecordStore over PostgreSQL and DynamoDB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"followup-dispatcher/internal/campaign"
)

// markerLayout is the stored form of a sent-marker: ISO-8601 UTC with
// millisecond precision.
const markerLayout = "2006-01-02T15:04:05.000Z"

// FormatMarker renders t as a stored marker value.
func FormatMarker(t time.Time) string {
	return t.UTC().Format(markerLayout)
}

// Postgres reads campaign records from one table keyed by (campaign, email).
type Postgres struct {
	db       *sql.DB
	table    string
	campaign string
}

func NewPostgres(db *sql.DB, table, campaignID string) *Postgres {
	return &Postgres{db: db, table: table, campaign: campaignID}
}

// ListApplications reads every record of the campaign in one read-only
// transaction. The row count is taken in the same snapshot and a short read
// is reported as an error.
func (p *Postgres) ListApplications(ctx context.Context) ([]campaign.ApplicationRecord, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var expected int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE campaign = $1`, p.table)
	if err := tx.QueryRowContext(ctx, countQuery, p.campaign).Scan(&expected); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT email, name, website, linkedin, assistance,
		       applied_at, stage2_sent_at, stage3_sent_at
		FROM %s
		WHERE campaign = $1
		ORDER BY campaign, email`, p.table)

	rows, err := tx.QueryContext(ctx, query, p.campaign)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]campaign.ApplicationRecord, 0, expected)
	for rows.Next() {
		var (
			rec                     campaign.ApplicationRecord
			applied, stage2, stage3 sql.NullString
		)
		if err := rows.Scan(&rec.Email, &rec.Name, &rec.Website, &rec.LinkedIn, &rec.Assistance,
			&applied, &stage2, &stage3); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Applied = applied.String
		rec.Stage2SentAt = stage2.String
		rec.Stage3SentAt = stage3.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	if len(records) != expected {
		return nil, fmt.Errorf("read %d of %d records", len(records), expected)
	}
	return records, nil
}

// MarkStageSent sets the stage marker only if it is still NULL, so repeated
// marks keep the first send time.
func (p *Postgres) MarkStageSent(ctx context.Context, email string, stage campaign.Stage, at time.Time) error {
	column, err := markerColumn(stage)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE campaign = $2 AND email = $3 AND %s IS NULL`,
		p.table, column, column)
	if _, err := p.db.ExecContext(ctx, query, FormatMarker(at), p.campaign, email); err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}

func markerColumn(stage campaign.Stage) (string, error) {
	switch stage {
	case campaign.Stage2:
		return "stage2_sent_at", nil
	case campaign.Stage3:
		return "stage3_sent_at", nil
	default:
		return "", fmt.Errorf("unknown stage %d", stage)
	}
}
