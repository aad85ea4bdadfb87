package poster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ostisync/internal/domain"
	"ostisync/internal/mapper"
	"ostisync/internal/osti"
	"ostisync/internal/validate"
)

// Mode selects where (and whether) records are written.
type Mode string

const (
	// ModeDryRun validates and formats payloads but never performs a
	// network write.
	ModeDryRun Mode = "dry-run"
	// ModeTest posts to the registry's review target.
	ModeTest Mode = "test"
	// ModeProd posts to the production registry.
	ModeProd Mode = "prod"
)

// ParseMode validates a mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDryRun, ModeTest, ModeProd:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want dry-run, test, or prod)", s)
	}
}

// Live reports whether the mode writes to a registry target.
func (m Mode) Live() bool { return m == ModeTest || m == ModeProd }

// Registry is the destination write API surface the poster needs.
type Registry interface {
	QueryByDOI(ctx context.Context, doi string) ([]osti.Response, error)
	Create(ctx context.Context, rec domain.RegistryRecord) (osti.Response, error)
	Update(ctx context.Context, ostiID string, rec domain.RegistryRecord) (osti.Response, error)
}

// Error kinds recorded on failed outcomes.
const (
	ErrKindMapping    = "mapping"
	ErrKindValidation = "validation"
	ErrKindSubmission = "submission"
)

// BatchResult aggregates one outcome per input record plus summary counts.
type BatchResult struct {
	Outcomes  []domain.SubmissionOutcome
	Succeeded int
	Failed    int
	Skipped   int
}

func (r *BatchResult) add(o domain.SubmissionOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case domain.StatusSuccess:
		r.Succeeded++
	case domain.StatusFailure:
		r.Failed++
	case domain.StatusSkipped:
		r.Skipped++
	}
}

// Poster maps, validates, and submits records one at a time, accumulating
// a SubmissionOutcome per record. One record's failure never aborts the
// rest of the batch; only registry authentication failure is fatal.
type Poster struct {
	Registry Registry
	Mapper   mapper.Mapper
	Mode     Mode
	Now      func() time.Time
}

func (p Poster) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Batch carries the cross-record state (duplicate doi/accession tracking
// and running counts) for one submission batch.
type Batch struct {
	poster        Poster
	seenDOI       map[string]bool
	seenAccession map[string]bool
	Result        BatchResult
}

// NewBatch starts an empty batch.
func (p Poster) NewBatch() *Batch {
	return &Batch{
		poster:        p,
		seenDOI:       map[string]bool{},
		seenAccession: map[string]bool{},
	}
}

// Post processes one record and folds its outcome into the batch result.
// A non-nil error is fatal to the whole run; the outcome is still recorded
// first so prior work stays inspectable.
func (b *Batch) Post(ctx context.Context, src domain.SourceRecord) (domain.SubmissionOutcome, error) {
	outcome, fatal := b.poster.post(ctx, src, b.seenDOI, b.seenAccession)
	b.Result.add(outcome)
	return outcome, fatal
}

// PostBatch processes records sequentially. Outcomes gathered so far stay
// in the result even when the returned error is non-nil.
func (p Poster) PostBatch(ctx context.Context, records []domain.SourceRecord) (BatchResult, error) {
	batch := p.NewBatch()
	for _, src := range records {
		if _, fatal := batch.Post(ctx, src); fatal != nil {
			return batch.Result, fatal
		}
	}
	return batch.Result, nil
}

// Post submits a single record with no batch-level duplicate state.
func (p Poster) Post(ctx context.Context, src domain.SourceRecord) (domain.SubmissionOutcome, error) {
	outcome, fatal := p.post(ctx, src, map[string]bool{}, map[string]bool{})
	return outcome, fatal
}

func (p Poster) post(ctx context.Context, src domain.SourceRecord, seenDOI, seenAccession map[string]bool) (domain.SubmissionOutcome, error) {
	outcome := domain.SubmissionOutcome{
		SourceID:  sourceID(src),
		DOI:       src.DOI,
		CreatedAt: p.now().UTC().Format(time.RFC3339),
	}

	rec, err := p.Mapper.Map(src)
	if err != nil {
		outcome.Status = domain.StatusFailure
		outcome.ErrorKind = ErrKindMapping
		outcome.ErrorDetail = err.Error()
		return outcome, nil
	}

	res := validate.Record(rec)
	if rec.DOI != "" && seenDOI[rec.DOI] {
		res.OK = false
		res.Errors = append(res.Errors, validate.FieldError{Field: "doi", Reason: fmt.Sprintf("duplicate of an earlier record in this batch (%s)", rec.DOI)})
	}
	if rec.AccessionNum != "" && rec.AccessionNum != rec.DOI && seenAccession[rec.AccessionNum] {
		res.OK = false
		res.Errors = append(res.Errors, validate.FieldError{Field: "accession_num", Reason: fmt.Sprintf("duplicate of an earlier record in this batch (%s)", rec.AccessionNum)})
	}
	if !res.OK {
		outcome.Status = domain.StatusFailure
		outcome.ErrorKind = ErrKindValidation
		outcome.ErrorDetail = res.Error()
		return outcome, nil
	}
	if rec.DOI != "" {
		seenDOI[rec.DOI] = true
	}
	if rec.AccessionNum != "" {
		seenAccession[rec.AccessionNum] = true
	}

	if !p.Mode.Live() {
		outcome.Status = domain.StatusSkipped
		outcome.ErrorDetail = "dry-run: payload valid, no write performed"
		return outcome, nil
	}

	reply, err := p.submit(ctx, rec)
	if err != nil {
		var apiErr *osti.APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			outcome.Status = domain.StatusFailure
			outcome.ErrorKind = ErrKindSubmission
			outcome.ErrorDetail = err.Error()
			return outcome, fmt.Errorf("registry rejected credentials: %w", err)
		}
		outcome.Status = domain.StatusFailure
		outcome.ErrorKind = ErrKindSubmission
		outcome.ErrorDetail = err.Error()
		return outcome, nil
	}
	outcome.OstiID = reply.OstiID
	if reply.DOI != "" {
		outcome.DOI = reply.DOI
	}
	if reply.Succeeded() {
		outcome.Status = domain.StatusSuccess
	} else {
		outcome.Status = domain.StatusFailure
		outcome.ErrorKind = ErrKindSubmission
		outcome.ErrorDetail = reply.StatusMessage
	}
	return outcome, nil
}

// submit creates the record, or updates it in place when the registry
// already knows its DOI.
func (p Poster) submit(ctx context.Context, rec domain.RegistryRecord) (osti.Response, error) {
	if rec.DOI != "" {
		existing, err := p.Registry.QueryByDOI(ctx, rec.DOI)
		if err != nil {
			return osti.Response{}, err
		}
		if len(existing) > 0 {
			return p.Registry.Update(ctx, existing[0].OstiID, rec)
		}
	}
	return p.Registry.Create(ctx, rec)
}

func sourceID(src domain.SourceRecord) string {
	if src.OstiID != "" {
		return src.OstiID
	}
	return src.DOI
}
