package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerEntry is one immutable row of the audit and cost ledger. Entries are
// only ever inserted; there is no update or delete path.
type LedgerEntry struct {
	ID           int64
	SubmissionID string
	Attempt      int
	PrevStatus   string
	NewStatus    string
	Reason       string
	Confidence   *float64
	ModelsUsed   []string
	Cost         float64
	CreatedAt    time.Time
}

// LedgerRepository wraps the append-only audit_entries table.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository constructs a ledger repository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Append inserts one entry for a processing attempt.
func (r *LedgerRepository) Append(ctx context.Context, entry LedgerEntry) error {
	models, err := json.Marshal(entry.ModelsUsed)
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entries (submission_id, attempt, prev_status, new_status,
			reason, confidence, models_used, cost, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9)
	`, entry.SubmissionID, entry.Attempt, entry.PrevStatus, entry.NewStatus,
		entry.Reason, entry.Confidence, string(models), entry.Cost, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// ListBySubmission returns the full attempt history for one submission in
// insertion order.
func (r *LedgerRepository) ListBySubmission(ctx context.Context, submissionID string) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, submission_id, attempt, prev_status, new_status,
			COALESCE(reason,''), confidence, COALESCE(models_used,''), cost, created_at
		FROM audit_entries WHERE submission_id=$1 ORDER BY id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListRange returns every entry created inside [from, to) for reporting.
func (r *LedgerRepository) ListRange(ctx context.Context, from, to time.Time) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, submission_id, attempt, prev_status, new_status,
			COALESCE(reason,''), confidence, COALESCE(models_used,''), cost, created_at
		FROM audit_entries WHERE created_at >= $1 AND created_at < $2 ORDER BY id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ledger range: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectEntries(rows pgxRows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var (
			entry      LedgerEntry
			confidence sql.NullFloat64
			models     string
		)
		if err := rows.Scan(&entry.ID, &entry.SubmissionID, &entry.Attempt,
			&entry.PrevStatus, &entry.NewStatus, &entry.Reason, &confidence,
			&models, &entry.Cost, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if confidence.Valid {
			v := confidence.Float64
			entry.Confidence = &v
		}
		if models != "" {
			if err := json.Unmarshal([]byte(models), &entry.ModelsUsed); err != nil {
				return nil, fmt.Errorf("decode models: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
