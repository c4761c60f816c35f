package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxdrop/internal/model"
)

// ErrNotFound is returned when a submission id does not exist.
var ErrNotFound = errors.New("submission not found")

// ErrNotProcessable is returned when a guarded status update matched no row,
// meaning the record is already settled or owned by another state.
var ErrNotProcessable = errors.New("submission not in a processable state")

const submissionColumns = `id, user_id, sender_email, destination, file_name, content_type,
	size_bytes, object_key, declared_seconds, status, rejection_reason, confidence,
	models_used, transcript, fingerprint, tier, used_advanced_ai, processing_cost,
	attempts, notified, notified_at, notify_method, notify_details,
	received_at, processed_at, transcribed_at, created_at, updated_at`

// SubmissionRepository wraps all SQL touching the submissions table.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Create inserts a pending submission before processing begins.
func (r *SubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	now := time.Now().UTC()
	sub.Status = model.StatusPending
	sub.CreatedAt = now
	sub.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO submissions (id, user_id, sender_email, destination, file_name,
			content_type, size_bytes, object_key, declared_seconds, status, tier,
			received_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sub.ID, sub.UserID, sub.SenderEmail, sub.Destination, sub.FileName,
		sub.ContentType, sub.SizeBytes, sub.ObjectKey, sub.DeclaredSeconds, sub.Status,
		sub.Tier, sub.ReceivedAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Get returns a submission by id.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select submission: %w", err)
	}
	return sub, nil
}

// BeginAttempt moves a pending or retried record into in_progress and bumps
// the attempt counter in a single statement, so no two attempts for the same
// record can both claim it. Settled records match no row.
func (r *SubmissionRepository) BeginAttempt(ctx context.Context, id string) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE submissions
		SET status=$1, attempts=attempts+1, updated_at=$2
		WHERE id=$3 AND status IN ($4, $5)
		RETURNING `+submissionColumns,
		model.StatusInProgress, time.Now().UTC(), id, model.StatusPending, model.StatusInProgress)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotProcessable
		}
		return nil, fmt.Errorf("begin attempt: %w", err)
	}
	return sub, nil
}

// RecordAnalysis stores confidence, models, and transcript together. A retry
// overwrites all of them, matching the one-analysis-per-attempt invariant.
func (r *SubmissionRepository) RecordAnalysis(ctx context.Context, id string, confidence float64, models []string, transcript string, usedAdvanced bool) error {
	encoded, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		UPDATE submissions
		SET confidence=$1, models_used=$2, transcript=$3, used_advanced_ai=$4,
			transcribed_at=$5, updated_at=$5
		WHERE id=$6
	`, confidence, string(encoded), transcript, usedAdvanced, now, id)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

// SetFingerprint stores the payload digest used for duplicate comparison.
func (r *SubmissionRepository) SetFingerprint(ctx context.Context, id, fingerprint string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE submissions SET fingerprint=$1, updated_at=$2 WHERE id=$3
	`, fingerprint, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set fingerprint: %w", err)
	}
	return nil
}

// Finalize writes the terminal verdict and the processing cost. Guarded on
// in_progress so a finalized record can never be finalized twice.
func (r *SubmissionRepository) Finalize(ctx context.Context, id string, status model.Status, reason string, cost float64) error {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET status=$1, rejection_reason=NULLIF($2,''), processing_cost=$3,
			processed_at=$4, updated_at=$4
		WHERE id=$5 AND status=$6
	`, status, reason, cost, now, id, model.StatusInProgress)
	if err != nil {
		return fmt.Errorf("finalize submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessable
	}
	return nil
}

// MarkRetryPending returns an in-flight record to pending so the queue can
// redeliver it after a transient failure.
func (r *SubmissionRepository) MarkRetryPending(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE submissions SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4
	`, model.StatusPending, time.Now().UTC(), id, model.StatusInProgress)
	if err != nil {
		return fmt.Errorf("mark retry pending: %w", err)
	}
	return nil
}

// ResolveQuarantine applies a human review decision. Only records currently
// quarantined can move, so repeated review calls are no-ops.
func (r *SubmissionRepository) ResolveQuarantine(ctx context.Context, id string, to model.Status, reason string) (*model.Submission, error) {
	if _, err := model.Transition(model.StatusQuarantined, to); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		UPDATE submissions
		SET status=$1, rejection_reason=NULLIF($2,''), updated_at=$3
		WHERE id=$4 AND status=$5
		RETURNING `+submissionColumns,
		to, reason, now, id, model.StatusQuarantined)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotProcessable
		}
		return nil, fmt.Errorf("resolve quarantine: %w", err)
	}
	return sub, nil
}

// DigestMatches returns prior submission ids from the same sender carrying an
// identical fingerprint. Rejected and failed records do not count, so a sender
// may legitimately resubmit after a failure.
func (r *SubmissionRepository) DigestMatches(ctx context.Context, senderEmail, fingerprint, excludeID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM submissions
		WHERE sender_email=$1 AND fingerprint=$2 AND id <> $3
			AND status NOT IN ($4, $5)
	`, senderEmail, fingerprint, excludeID, model.StatusRejected, model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("digest matches: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan digest match: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkNotified flips the notified flag exactly once. The boolean result tells
// the dispatcher whether this call won the claim.
func (r *SubmissionRepository) MarkNotified(ctx context.Context, id, method, details string) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET notified=true, notified_at=$1, notify_method=$2, notify_details=$3, updated_at=$1
		WHERE id=$4 AND notified=false
	`, now, method, details, id)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns recent submissions, optionally filtered by status.
func (r *SubmissionRepository) List(ctx context.Context, status model.Status, limit int) ([]*model.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + submissionColumns + ` FROM submissions`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var out []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var (
		sub           model.Submission
		reason        sql.NullString
		confidence    sql.NullFloat64
		models        sql.NullString
		transcript    sql.NullString
		fingerprint   sql.NullString
		notifiedAt    sql.NullTime
		notifyMethod  sql.NullString
		notifyDetails sql.NullString
		processedAt   sql.NullTime
		transcribedAt sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.SenderEmail, &sub.Destination, &sub.FileName,
		&sub.ContentType, &sub.SizeBytes, &sub.ObjectKey, &sub.DeclaredSeconds, &sub.Status,
		&reason, &confidence, &models, &transcript, &fingerprint, &sub.Tier,
		&sub.UsedAdvancedAI, &sub.ProcessingCost, &sub.Attempts, &sub.Notified,
		&notifiedAt, &notifyMethod, &notifyDetails,
		&sub.ReceivedAt, &processedAt, &transcribedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		sub.RejectionReason = reason.String
	}
	if confidence.Valid {
		v := confidence.Float64
		sub.Confidence = &v
	}
	if models.Valid && models.String != "" {
		if err := json.Unmarshal([]byte(models.String), &sub.ModelsUsed); err != nil {
			return nil, fmt.Errorf("decode models: %w", err)
		}
	}
	if transcript.Valid {
		sub.Transcript = transcript.String
	}
	if fingerprint.Valid {
		sub.Fingerprint = fingerprint.String
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		sub.NotifiedAt = &t
	}
	if notifyMethod.Valid {
		sub.NotifyMethod = notifyMethod.String
	}
	if notifyDetails.Valid {
		sub.NotifyDetails = notifyDetails.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		sub.ProcessedAt = &t
	}
	if transcribedAt.Valid {
		t := transcribedAt.Time
		sub.TranscribedAt = &t
	}
	return &sub, nil
}
