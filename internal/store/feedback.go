package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// SaveResults records the provenance of emitted results.
func (s *SQLiteStore) SaveResults(ctx context.Context, results []ResultProvenance) error {
	if len(results) == 0 {
		return nil
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO results (result_id, collection_id, document_id, strategy, created_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return kberrors.StorageError("prepare result insert", err)
		}
		defer stmt.Close()

		for _, r := range results {
			created := r.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, r.ResultID, r.Collection, r.DocumentID, r.Strategy, toMillis(created)); err != nil {
				return kberrors.StorageError("save result "+r.ResultID, err)
			}
		}
		return nil
	})
}

// LookupResult returns the provenance of a previously emitted result.
func (s *SQLiteStore) LookupResult(ctx context.Context, resultID string) (*ResultProvenance, error) {
	var p ResultProvenance
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT result_id, collection_id, document_id, strategy, created_at
		FROM results WHERE result_id = ?`, resultID).
		Scan(&p.ResultID, &p.Collection, &p.DocumentID, &p.Strategy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kberrors.Newf(kberrors.ErrCodeUnknownResult, "unknown result %q", resultID)
	}
	if err != nil {
		return nil, kberrors.StorageError("lookup result", err)
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// PruneResults drops provenance older than the cutoff and returns the count removed.
func (s *SQLiteStore) PruneResults(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM results WHERE created_at < ?", toMillis(olderThan))
	if err != nil {
		return 0, kberrors.StorageError("prune results", err)
	}
	return res.RowsAffected()
}

// SaveFeedback persists one feedback event.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, f *FeedbackRecord) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var rating sql.NullFloat64
	if f.Rating != nil {
		rating = sql.NullFloat64{Float64: *f.Rating, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, result_id, collection_id, document_id, strategy, kind, rating, comment, user_id, polarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ResultID, f.Collection, f.DocumentID, f.Strategy, f.Kind, rating,
		f.Comment, f.UserID, f.Polarity, toMillis(created))
	if err != nil {
		return kberrors.StorageError("save feedback "+f.ID, err)
	}
	return nil
}

// DeleteFeedback removes one feedback event by id.
func (s *SQLiteStore) DeleteFeedback(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM feedback WHERE id = ?", id)
	if err != nil {
		return kberrors.StorageError("delete feedback", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kberrors.Newf(kberrors.ErrCodeNotFound, "feedback %q not found", id)
	}
	return nil
}

// ListFeedback returns the events recorded for a result, newest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, resultID string) ([]*FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, result_id, collection_id, document_id, strategy, kind, rating, comment, user_id, polarity, created_at
		FROM feedback WHERE result_id = ? ORDER BY created_at DESC, id`, resultID)
	if err != nil {
		return nil, kberrors.StorageError("list feedback", err)
	}
	defer rows.Close()

	var out []*FeedbackRecord
	for rows.Next() {
		var f FeedbackRecord
		var rating sql.NullFloat64
		var created int64
		if err := rows.Scan(&f.ID, &f.ResultID, &f.Collection, &f.DocumentID, &f.Strategy, &f.Kind,
			&rating, &f.Comment, &f.UserID, &f.Polarity, &created); err != nil {
			return nil, kberrors.StorageError("scan feedback", err)
		}
		if rating.Valid {
			r := rating.Float64
			f.Rating = &r
		}
		f.CreatedAt = fromMillis(created)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// FeedbackSummary aggregates the feedback of one result.
func (s *SQLiteStore) FeedbackSummary(ctx context.Context, resultID string) (*FeedbackSummary, error) {
	sum := FeedbackSummary{ResultID: resultID}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN polarity > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN polarity < 0 THEN 1 ELSE 0 END), 0),
		       COUNT(rating),
		       AVG(rating)
		FROM feedback WHERE result_id = ?`, resultID).
		Scan(&sum.Total, &sum.Positive, &sum.Negative, &sum.Rated, &avg)
	if err != nil {
		return nil, kberrors.StorageError("summarize feedback", err)
	}
	if sum.Total > 0 {
		sum.PositiveRate = float64(sum.Positive) / float64(sum.Total)
	}
	if avg.Valid {
		sum.AvgRating = avg.Float64
	}
	return &sum, nil
}

// FeedbackCounts tallies polarity per collection and strategy. It seeds the
// in-memory strategy statistics at start-up.
func (s *SQLiteStore) FeedbackCounts(ctx context.Context) ([]FeedbackCount, error) {
	return s.FilterFeedbackCounts(ctx, FeedbackFilter{})
}

// FilterFeedbackCounts tallies polarity per collection and strategy over
// the feedback matching f.
func (s *SQLiteStore) FilterFeedbackCounts(ctx context.Context, f FeedbackFilter) ([]FeedbackCount, error) {
	where := "WHERE 1 = 1"
	var args []any
	if f.Collection != "" {
		where += " AND collection_id = ?"
		args = append(args, f.Collection)
	}
	if f.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_id, strategy,
		       SUM(CASE WHEN polarity > 0 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN polarity < 0 THEN 1 ELSE 0 END)
		FROM feedback `+where+` GROUP BY collection_id, strategy ORDER BY collection_id, strategy`, args...)
	if err != nil {
		return nil, kberrors.StorageError("count feedback", err)
	}
	defer rows.Close()

	var out []FeedbackCount
	for rows.Next() {
		var c FeedbackCount
		if err := rows.Scan(&c.Collection, &c.Strategy, &c.Positive, &c.Negative); err != nil {
			return nil, kberrors.StorageError("scan feedback count", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
