package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ostisync/internal/config"
	"ostisync/internal/domain"
	"ostisync/internal/events"
	"ostisync/internal/harvest"
	"ostisync/internal/mapper"
	"ostisync/internal/poster"
	"ostisync/internal/repo"
)

// Engine ties the pipeline stages to the workspace store and event log.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newRunID(kind, salt string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"|"+salt)).String()
}

// HandleResolver resolves a DOI to the repository handle it redirects to.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, doi string) (string, error)
}

// HarvestOptions tune one harvest run.
type HarvestOptions struct {
	PageSize int
	MaxPages int
	// Resolver, when set, resolves each record's DOI to its repository
	// handle, consulting the redirect cache first.
	Resolver HandleResolver
}

// RunHarvest paginates the source API and persists each record as it
// arrives, so a failure mid-harvest keeps everything seen so far. The
// returned error wraps *harvest.HarvestError on a partial harvest.
func (e Engine) RunHarvest(ctx context.Context, client harvest.Client, opts HarvestOptions) (domain.Run, error) {
	if e.Config == nil {
		return domain.Run{}, errors.New("config not loaded")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = e.Config.Source.PageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = e.Config.Source.MaxPages
	}

	started := e.now().UTC().Format(time.RFC3339)
	run := domain.Run{
		ID:        e.newRunID("harvest", started),
		Kind:      "harvest",
		StartedAt: started,
	}
	if err := e.beginRun(ctx, run); err != nil {
		return run, err
	}

	h := harvest.Harvester{Client: client, PageSize: pageSize, MaxPages: maxPages}
	harvestErr := h.Walk(ctx, func(rec domain.SourceRecord) error {
		if err := e.storeRecord(ctx, run, rec, opts.Resolver); err != nil {
			return err
		}
		run.Succeeded++
		return nil
	})
	if harvestErr != nil {
		run.Failed++
		run.Note = harvestErr.Error()
	}

	run.FinishedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.finishRun(ctx, run); err != nil {
		return run, err
	}
	if harvestErr != nil {
		return run, fmt.Errorf("harvest run %s: %w", run.ID, harvestErr)
	}
	return run, nil
}

func (e Engine) storeRecord(ctx context.Context, run domain.Run, rec domain.SourceRecord, resolver HandleResolver) error {
	now := e.now().UTC().Format(time.RFC3339)
	var handle string
	if resolver != nil && rec.DOI != "" {
		// Handle resolution is enrichment; a miss is not a harvest failure.
		if h, err := e.resolveHandle(ctx, resolver, rec.DOI); err == nil {
			handle = h
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSourceRecordTx(ctx, tx, rec, now); err != nil {
		return fmt.Errorf("store record %s: %w", rec.OstiID, err)
	}
	if handle != "" {
		if err := e.Repo.SetHandleTx(ctx, tx, rec.OstiID, handle); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "harvest.record", run.ID, "source_record", rec.OstiID, events.EventPayload{"doi": rec.DOI, "title": rec.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) resolveHandle(ctx context.Context, resolver HandleResolver, doi string) (string, error) {
	if handle, err := e.Repo.GetRedirect(ctx, doi); err == nil {
		return handle, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	handle, err := resolver.ResolveHandle(ctx, doi)
	if err != nil {
		return "", err
	}
	if err := e.Repo.PutRedirect(ctx, doi, handle, e.now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	return handle, nil
}

// PostOptions tune one post run.
type PostOptions struct {
	Mode poster.Mode
	// All submits every stored record; the default is only records not
	// yet posted successfully.
	All bool
}

// RunPost maps, validates, and submits stored records sequentially,
// persisting one outcome per record. A record's failure never stops the
// batch; outcomes already gathered survive a fatal abort.
func (e Engine) RunPost(ctx context.Context, registry poster.Registry, opts PostOptions) (domain.Run, poster.BatchResult, error) {
	if e.Config == nil {
		return domain.Run{}, poster.BatchResult{}, errors.New("config not loaded")
	}
	records, err := e.Repo.ListSourceRecords(ctx, !opts.All)
	if err != nil {
		return domain.Run{}, poster.BatchResult{}, err
	}

	started := e.now().UTC().Format(time.RFC3339)
	run := domain.Run{
		ID:        e.newRunID("post", started+"|"+string(opts.Mode)),
		Kind:      "post",
		Mode:      string(opts.Mode),
		StartedAt: started,
	}
	if err := e.beginRun(ctx, run); err != nil {
		return run, poster.BatchResult{}, err
	}

	p := poster.Poster{
		Registry: registry,
		Mapper:   mapper.New(e.Config.Defaults),
		Mode:     opts.Mode,
		Now:      e.Now,
	}

	batch := p.NewBatch()
	var fatal error
	for _, src := range records {
		outcome, err := batch.Post(ctx, src)
		outcome.RunID = run.ID
		if persistErr := e.storeOutcome(ctx, run, outcome); persistErr != nil {
			return run, batch.Result, persistErr
		}
		if err != nil {
			fatal = err
			break
		}
	}
	result := batch.Result

	run.Succeeded = result.Succeeded
	run.Failed = result.Failed
	run.Skipped = result.Skipped
	run.FinishedAt = e.now().UTC().Format(time.RFC3339)
	if fatal != nil {
		run.Note = fatal.Error()
	}
	if err := e.finishRun(ctx, run); err != nil {
		return run, result, err
	}
	return run, result, fatal
}

func (e Engine) storeOutcome(ctx context.Context, run domain.Run, outcome domain.SubmissionOutcome) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOutcomeTx(ctx, tx, outcome); err != nil {
		return fmt.Errorf("store outcome for %s: %w", outcome.SourceID, err)
	}
	if outcome.Status == domain.StatusSuccess {
		if err := e.Repo.MarkPostedTx(ctx, tx, outcome.SourceID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "post.outcome", run.ID, "source_record", outcome.SourceID, events.EventPayload{
		"status":   outcome.Status,
		"osti_id":  outcome.OstiID,
		"doi":      outcome.DOI,
		"err_kind": outcome.ErrorKind,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) beginRun(ctx context.Context, run domain.Run) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.started", run.ID, "run", run.ID, events.EventPayload{"kind": run.Kind, "mode": run.Mode}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) finishRun(ctx context.Context, run domain.Run) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.FinishRunTx(ctx, tx, run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.finished", run.ID, "run", run.ID, events.EventPayload{
		"succeeded": run.Succeeded,
		"failed":    run.Failed,
		"skipped":   run.Skipped,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
