package harvest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ostisync/internal/domain"
	"ostisync/internal/harvest"
	"ostisync/internal/source"
)

// pagedClient serves canned pages and records how many were requested.
type pagedClient struct {
	pages   [][]domain.SourceRecord
	failOn  int
	fetches int
}

func (c *pagedClient) FetchPage(ctx context.Context, page, size int) ([]domain.SourceRecord, error) {
	c.fetches++
	if c.failOn > 0 && page == c.failOn {
		return nil, fmt.Errorf("boom")
	}
	if page >= len(c.pages) {
		return nil, nil
	}
	return c.pages[page], nil
}

func record(id string) domain.SourceRecord {
	return domain.SourceRecord{OstiID: id, Title: "t-" + id}
}

func fullPage(prefix string, n int) []domain.SourceRecord {
	out := make([]domain.SourceRecord, n)
	for i := range out {
		out[i] = record(fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}

func TestHarvestSingleRecordFixture(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "0" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"osti_id":"1523481","title":"Plasma rotation measurements","doi":"10.11578/1523481","dataset_type":"SM","authors":{"author":[{"first_name":"John","last_name":"Smith"}]}}]`)
	}))
	defer ts.Close()

	client := source.New(ts.URL, "PPPL")
	h := harvest.Harvester{Client: client, PageSize: 25, MaxPages: 15}
	records, err := h.Harvest(context.Background())
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if records[0].OstiID != "1523481" || records[0].DOI != "10.11578/1523481" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestShortPageTerminates(t *testing.T) {
	client := &pagedClient{pages: [][]domain.SourceRecord{
		fullPage("a", 2),
		{record("last")},
	}}
	h := harvest.Harvester{Client: client, PageSize: 2, MaxPages: 15}
	records, err := h.Harvest(context.Background())
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("record count = %d, want 3", len(records))
	}
	if client.fetches != 2 {
		t.Fatalf("fetches = %d, want 2", client.fetches)
	}
}

func TestPartialResultPreservedOnFailure(t *testing.T) {
	client := &pagedClient{
		pages:  [][]domain.SourceRecord{fullPage("a", 2), fullPage("b", 2)},
		failOn: 1,
	}
	h := harvest.Harvester{Client: client, PageSize: 2, MaxPages: 15}
	records, err := h.Harvest(context.Background())
	if err == nil {
		t.Fatal("expected harvest error")
	}
	var he *harvest.HarvestError
	if !errors.As(err, &he) {
		t.Fatalf("error type = %T, want *HarvestError", err)
	}
	if he.Page != 1 {
		t.Fatalf("failed page = %d, want 1", he.Page)
	}
	if len(records) != 2 || len(he.Partial) != 2 {
		t.Fatalf("partial = %d records (err carries %d), want 2", len(records), len(he.Partial))
	}
}

func TestPageLimitExhaustionErrors(t *testing.T) {
	pages := make([][]domain.SourceRecord, 5)
	for i := range pages {
		pages[i] = fullPage(fmt.Sprintf("p%d", i), 2)
	}
	client := &pagedClient{pages: pages}
	h := harvest.Harvester{Client: client, PageSize: 2, MaxPages: 3}
	records, err := h.Harvest(context.Background())
	var he *harvest.HarvestError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HarvestError, got %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("record count = %d, want 6", len(records))
	}
}
