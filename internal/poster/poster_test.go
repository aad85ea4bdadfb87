package poster_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ostisync/internal/config"
	"ostisync/internal/domain"
	"ostisync/internal/mapper"
	"ostisync/internal/osti"
	"ostisync/internal/poster"
)

func testDefaults() config.Defaults {
	return config.Defaults{
		SponsorOrg:    "USDOE Office of Science (SC)",
		ResearchOrg:   "Princeton Plasma Physics Laboratory (PPPL)",
		ContractNo:    "AC02-09CH11466",
		SiteInputCode: "PPPL",
		ProductType:   "DA",
	}
}

func sourceRecord(ostiID, doi string) domain.SourceRecord {
	return domain.SourceRecord{
		OstiID:      ostiID,
		DatasetType: "SM",
		Title:       "record " + ostiID,
		Authors: domain.SourceAuthors{Author: []domain.SourceAuthor{
			{FirstName: "John", LastName: "Smith"},
		}},
		PublicationDate: "2020-06-15",
		DOI:             doi,
	}
}

// fakeRegistry is an httptest E-Link stand-in counting every request.
type fakeRegistry struct {
	server  *httptest.Server
	calls   int64
	status  string
	reject  bool
	created int64
	updated int64
	known   map[string]string // doi -> osti_id already registered
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{status: "SUCCESS", known: map[string]string{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.calls, 1)
		if f.reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet:
			doi := r.URL.Query().Get("doi")
			if id, ok := f.known[doi]; ok {
				fmt.Fprintf(w, `{"records":[{"osti_id":%q,"doi":%q,"status":"SUCCESS"}]}`, id, doi)
				return
			}
			fmt.Fprint(w, `{"records":[]}`)
		case r.Method == http.MethodPost:
			atomic.AddInt64(&f.created, 1)
			fmt.Fprintf(w, `{"osti_id":"900001","status":%q,"status_message":"rejected by reviewer"}`, f.status)
		case r.Method == http.MethodPut:
			atomic.AddInt64(&f.updated, 1)
			id := strings.TrimPrefix(r.URL.Path, "/records/")
			fmt.Fprintf(w, `{"osti_id":%q,"status":%q}`, id, f.status)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRegistry) client() *osti.Client {
	return osti.New(f.server.URL, config.Credentials{Username: "u", Password: "p"})
}

func newPoster(reg poster.Registry, mode poster.Mode) poster.Poster {
	return poster.Poster{
		Registry: reg,
		Mapper:   mapper.New(testDefaults()),
		Mode:     mode,
		Now:      func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestDryRunNeverCallsRegistry(t *testing.T) {
	reg := newFakeRegistry(t)
	p := newPoster(reg.client(), poster.ModeDryRun)
	result, err := p.PostBatch(context.Background(), []domain.SourceRecord{
		sourceRecord("1", "10.11578/1"),
		sourceRecord("2", "10.11578/2"),
	})
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if got := atomic.LoadInt64(&reg.calls); got != 0 {
		t.Fatalf("registry calls = %d, want 0", got)
	}
	if result.Skipped != 2 || result.Succeeded != 0 || result.Failed != 0 {
		t.Fatalf("counts = %d/%d/%d (ok/fail/skip=%d)", result.Succeeded, result.Failed, result.Skipped, result.Skipped)
	}
	for _, o := range result.Outcomes {
		if o.Status != domain.StatusSkipped {
			t.Fatalf("outcome status = %s, want SKIPPED", o.Status)
		}
	}
}

func TestOneOutcomePerRecordWithMidBatchFailure(t *testing.T) {
	reg := newFakeRegistry(t)
	p := newPoster(reg.client(), poster.ModeTest)

	bad := sourceRecord("2", "10.11578/2")
	bad.PublicationDate = "garbage"

	result, err := p.PostBatch(context.Background(), []domain.SourceRecord{
		sourceRecord("1", "10.11578/1"),
		bad,
		sourceRecord("3", "10.11578/3"),
	})
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("outcome count = %d, want 3", len(result.Outcomes))
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("counts = %d succeeded, %d failed", result.Succeeded, result.Failed)
	}
	second := result.Outcomes[1]
	if second.Status != domain.StatusFailure || second.ErrorKind != poster.ErrKindMapping {
		t.Fatalf("second outcome = %+v", second)
	}
	if second.SourceID != "2" {
		t.Fatalf("second outcome source = %q, want 2", second.SourceID)
	}
}

func TestLiveCreatesWhenDOIUnknown(t *testing.T) {
	reg := newFakeRegistry(t)
	p := newPoster(reg.client(), poster.ModeTest)
	outcome, err := p.Post(context.Background(), sourceRecord("1", "10.11578/1"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if outcome.Status != domain.StatusSuccess {
		t.Fatalf("status = %s: %s", outcome.Status, outcome.ErrorDetail)
	}
	if outcome.OstiID != "900001" {
		t.Fatalf("osti_id = %q", outcome.OstiID)
	}
	if reg.created != 1 || reg.updated != 0 {
		t.Fatalf("created=%d updated=%d, want create only", reg.created, reg.updated)
	}
}

func TestLiveUpdatesWhenDOIRegistered(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.known["10.11578/1"] = "777"
	p := newPoster(reg.client(), poster.ModeTest)
	outcome, err := p.Post(context.Background(), sourceRecord("1", "10.11578/1"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if outcome.Status != domain.StatusSuccess || outcome.OstiID != "777" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if reg.created != 0 || reg.updated != 1 {
		t.Fatalf("created=%d updated=%d, want update only", reg.created, reg.updated)
	}
}

func TestRegistryRejectionIsPerRecord(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.status = "FAILURE"
	p := newPoster(reg.client(), poster.ModeTest)
	result, err := p.PostBatch(context.Background(), []domain.SourceRecord{
		sourceRecord("1", "10.11578/1"),
		sourceRecord("2", "10.11578/2"),
	})
	if err != nil {
		t.Fatalf("rejection must not abort the batch: %v", err)
	}
	if result.Failed != 2 {
		t.Fatalf("failed = %d, want 2", result.Failed)
	}
	for _, o := range result.Outcomes {
		if o.ErrorKind != poster.ErrKindSubmission {
			t.Fatalf("error kind = %q", o.ErrorKind)
		}
	}
}

func TestUnauthorizedAbortsRun(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.reject = true
	p := newPoster(reg.client(), poster.ModeTest)
	result, err := p.PostBatch(context.Background(), []domain.SourceRecord{
		sourceRecord("1", "10.11578/1"),
		sourceRecord("2", "10.11578/2"),
	})
	if err == nil {
		t.Fatal("expected fatal credential error")
	}
	// The failing record still got its outcome before the abort.
	if len(result.Outcomes) != 1 {
		t.Fatalf("outcome count = %d, want 1", len(result.Outcomes))
	}
	if result.Outcomes[0].Status != domain.StatusFailure {
		t.Fatalf("outcome = %+v", result.Outcomes[0])
	}
}

func TestDuplicateDOIWithinBatchFailsValidation(t *testing.T) {
	reg := newFakeRegistry(t)
	p := newPoster(reg.client(), poster.ModeTest)
	result, err := p.PostBatch(context.Background(), []domain.SourceRecord{
		sourceRecord("1", "10.11578/1"),
		sourceRecord("2", "10.11578/1"),
	})
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("counts = %d/%d", result.Succeeded, result.Failed)
	}
	if result.Outcomes[1].ErrorKind != poster.ErrKindValidation {
		t.Fatalf("second outcome = %+v", result.Outcomes[1])
	}
}

func TestParseMode(t *testing.T) {
	for _, ok := range []string{"dry-run", "test", "prod"} {
		if _, err := poster.ParseMode(ok); err != nil {
			t.Fatalf("ParseMode(%q): %v", ok, err)
		}
	}
	if _, err := poster.ParseMode("live"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
