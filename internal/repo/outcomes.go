package repo

import (
	"context"
	"database/sql"

	"ostisync/internal/domain"
)

func (r Repo) InsertOutcome(ctx context.Context, o domain.SubmissionOutcome) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertOutcomeTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) InsertOutcomeTx(ctx context.Context, tx *sql.Tx, o domain.SubmissionOutcome) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outcomes(run_id,source_id,doi,status,registry_id,error_kind,error_detail,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		o.RunID, o.SourceID, nullableString(o.DOI), o.Status, nullableString(o.OstiID), nullableString(o.ErrorKind), nullableString(o.ErrorDetail), o.CreatedAt)
	return err
}

// ListOutcomesByRun returns outcomes for one run in submission order.
func (r Repo) ListOutcomesByRun(ctx context.Context, runID string) ([]domain.SubmissionOutcome, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,source_id,doi,status,registry_id,error_kind,error_detail,created_at
FROM outcomes WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

// ListOutcomes returns the most recent outcomes across runs.
func (r Repo) ListOutcomes(ctx context.Context, limit int) ([]domain.SubmissionOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,source_id,doi,status,registry_id,error_kind,error_detail,created_at
FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]domain.SubmissionOutcome, error) {
	var out []domain.SubmissionOutcome
	for rows.Next() {
		var o domain.SubmissionOutcome
		var doi, registryID, errKind, errDetail sql.NullString
		if err := rows.Scan(&o.RunID, &o.SourceID, &doi, &o.Status, &registryID, &errKind, &errDetail, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.DOI = doi.String
		o.OstiID = registryID.String
		o.ErrorKind = errKind.String
		o.ErrorDetail = errDetail.String
		out = append(out, o)
	}
	return out, rows.Err()
}
