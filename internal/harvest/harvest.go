package harvest

import (
	"context"
	"fmt"

	"ostisync/internal/domain"
)

// Client fetches one page of source records. A page shorter than size
// signals the end of pagination.
type Client interface {
	FetchPage(ctx context.Context, page, size int) ([]domain.SourceRecord, error)
}

// HarvestError reports a page fetch that failed after partial success.
// Records harvested before the failure are preserved, not discarded.
type HarvestError struct {
	Page    int
	Partial []domain.SourceRecord
	Err     error
}

func (e *HarvestError) Error() string {
	return fmt.Sprintf("harvest failed on page %d after %d records: %v", e.Page, len(e.Partial), e.Err)
}

func (e *HarvestError) Unwrap() error { return e.Err }

// Harvester paginates the source API and collects raw records one page at
// a time. Sequential by design; the only blocking operation is the page
// fetch.
type Harvester struct {
	Client   Client
	PageSize int
	MaxPages int
}

// Walk feeds records to fn page by page as they arrive. fn returning an
// error stops the walk. On a page fetch failure the returned error is a
// *HarvestError carrying the records already seen.
func (h Harvester) Walk(ctx context.Context, fn func(domain.SourceRecord) error) error {
	pageSize := h.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	maxPages := h.MaxPages
	if maxPages <= 0 {
		maxPages = 15
	}
	var seen []domain.SourceRecord
	for page := 0; page < maxPages; page++ {
		records, err := h.Client.FetchPage(ctx, page, pageSize)
		if err != nil {
			return &HarvestError{Page: page, Partial: seen, Err: err}
		}
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
			seen = append(seen, rec)
		}
		if len(records) < pageSize {
			return nil
		}
	}
	return &HarvestError{
		Page:    maxPages,
		Partial: seen,
		Err:     fmt.Errorf("pagination did not terminate within %d pages; raise source.max_pages", maxPages),
	}
}

// Harvest collects every record into a slice. On failure the partial
// result is still available through the returned *HarvestError.
func (h Harvester) Harvest(ctx context.Context) ([]domain.SourceRecord, error) {
	var out []domain.SourceRecord
	err := h.Walk(ctx, func(rec domain.SourceRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}
