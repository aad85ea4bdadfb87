package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ostisync/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

// UpsertSourceRecordTx stores one harvested record, replacing any earlier
// harvest of the same source id. The posted flag survives re-harvest.
func (r Repo) UpsertSourceRecordTx(ctx context.Context, tx *sql.Tx, rec domain.SourceRecord, harvestedAt string) error {
	if rec.OstiID == "" {
		return fmt.Errorf("source record missing osti_id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal source record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO source_records(osti_id,doi,title,payload_json,harvested_at)
VALUES (?,?,?,?,?)
ON CONFLICT(osti_id) DO UPDATE SET doi=excluded.doi, title=excluded.title, payload_json=excluded.payload_json, harvested_at=excluded.harvested_at`,
		rec.OstiID, nullableString(rec.DOI), rec.Title, string(payload), harvestedAt)
	return err
}

// GetSourceRecord fetches one harvested record by source id.
func (r Repo) GetSourceRecord(ctx context.Context, ostiID string) (domain.SourceRecord, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM source_records WHERE osti_id=?`, ostiID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.SourceRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.SourceRecord{}, err
	}
	var rec domain.SourceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.SourceRecord{}, fmt.Errorf("unmarshal source record %s: %w", ostiID, err)
	}
	return rec, nil
}

// ListSourceRecords returns harvested records, optionally only those not
// yet posted, in harvest order.
func (r Repo) ListSourceRecords(ctx context.Context, unpostedOnly bool) ([]domain.SourceRecord, error) {
	q := `SELECT payload_json FROM source_records`
	if unpostedOnly {
		q += ` WHERE posted=0`
	}
	q += ` ORDER BY harvested_at ASC, osti_id ASC`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SourceRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.SourceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal source record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkPostedTx flags a source record as successfully submitted.
func (r Repo) MarkPostedTx(ctx context.Context, tx *sql.Tx, ostiID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE source_records SET posted=1 WHERE osti_id=?`, ostiID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetHandleTx records the repository handle a record's DOI resolves to.
func (r Repo) SetHandleTx(ctx context.Context, tx *sql.Tx, ostiID, handle string) error {
	_, err := tx.ExecContext(ctx, `UPDATE source_records SET handle=? WHERE osti_id=?`, handle, ostiID)
	return err
}

// CountSourceRecords returns total and unposted record counts.
func (r Repo) CountSourceRecords(ctx context.Context) (total, unposted int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT count(*), coalesce(sum(CASE WHEN posted=0 THEN 1 ELSE 0 END),0) FROM source_records`).Scan(&total, &unposted)
	return total, unposted, err
}

// InsertRunTx records the start of a harvest or post run.
func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,kind,mode,started_at) VALUES (?,?,?,?)`,
		run.ID, run.Kind, nullableString(run.Mode), run.StartedAt)
	return err
}

// FinishRunTx closes a run with its summary counts.
func (r Repo) FinishRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET finished_at=?, succeeded=?, failed=?, skipped=?, note=? WHERE id=?`,
		run.FinishedAt, run.Succeeded, run.Failed, run.Skipped, nullableString(run.Note), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun fetches one run by id.
func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	var mode, finished, note sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,kind,mode,started_at,finished_at,succeeded,failed,skipped,note FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.Kind, &mode, &run.StartedAt, &finished, &run.Succeeded, &run.Failed, &run.Skipped, &note)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.Mode = mode.String
	run.FinishedAt = finished.String
	run.Note = note.String
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,kind,mode,started_at,finished_at,succeeded,failed,skipped,note FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		var run domain.Run
		var mode, finished, note sql.NullString
		if err := rows.Scan(&run.ID, &run.Kind, &mode, &run.StartedAt, &finished, &run.Succeeded, &run.Failed, &run.Skipped, &note); err != nil {
			return nil, err
		}
		run.Mode = mode.String
		run.FinishedAt = finished.String
		run.Note = note.String
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRedirect returns the cached handle for a DOI.
func (r Repo) GetRedirect(ctx context.Context, doi string) (string, error) {
	var handle string
	err := r.DB.QueryRowContext(ctx, `SELECT handle FROM redirects WHERE doi=?`, doi).Scan(&handle)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return handle, err
}

// PutRedirect caches a DOI to handle resolution.
func (r Repo) PutRedirect(ctx context.Context, doi, handle, resolvedAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO redirects(doi,handle,resolved_at) VALUES (?,?,?)
ON CONFLICT(doi) DO UPDATE SET handle=excluded.handle, resolved_at=excluded.resolved_at`,
		doi, handle, resolvedAt)
	return err
}

// LatestEvents returns recent events, newest first, with optional filters.
func (r Repo) LatestEvents(ctx context.Context, n int, runID, evtType string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	q := `SELECT id,ts,type,run_id,entity_kind,entity_id,payload_json FROM events WHERE 1=1`
	args := []any{}
	if runID != "" {
		q += ` AND run_id=?`
		args = append(args, runID)
	}
	if evtType != "" {
		q += ` AND type=?`
		args = append(args, evtType)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var run, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &run, &e.EntityKind, &entityID, &e.Payload); err != nil {
			return nil, err
		}
		e.RunID = run.String
		e.EntityID = entityID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
