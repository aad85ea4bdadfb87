package mapper

import (
	"errors"
	"strings"
	"testing"

	"ostisync/internal/config"
	"ostisync/internal/domain"
	"ostisync/internal/validate"
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

func wellFormedRecord() domain.SourceRecord {
	return domain.SourceRecord{
		OstiID:      "1523481",
		DatasetType: "SM",
		Title:       "Plasma rotation measurements",
		Authors: domain.SourceAuthors{Author: []domain.SourceAuthor{
			{FirstName: "John", MiddleName: "A.", LastName: "Smith"},
		}},
		ContractNos:     "AC02-09CH11466",
		PublicationDate: "2020-06-15",
		DOI:             "10.11578/1523481",
	}
}

func TestMapWellFormedValidatesClean(t *testing.T) {
	m := New(testDefaults())
	rec, err := m.Map(wellFormedRecord())
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	res := validate.Record(rec)
	if !res.OK {
		t.Fatalf("expected clean validation, got: %s", res.Error())
	}
	if rec.PublicationDate != "06/15/2020" {
		t.Fatalf("publication_date = %q, want 06/15/2020", rec.PublicationDate)
	}
	if rec.AccessionNum != "10.11578/1523481" {
		t.Fatalf("accession_num = %q", rec.AccessionNum)
	}
	if rec.SiteURL != "https://doi.org/10.11578/1523481" {
		t.Fatalf("site_url = %q", rec.SiteURL)
	}
}

func TestBareNameAuthorEquivalence(t *testing.T) {
	m := New(testDefaults())

	split := wellFormedRecord()
	bareComma := wellFormedRecord()
	bareComma.Authors = domain.SourceAuthors{Author: []domain.SourceAuthor{{Name: "Smith, John A."}}}
	bareSpace := wellFormedRecord()
	bareSpace.Authors = domain.SourceAuthors{Author: []domain.SourceAuthor{{Name: "John A. Smith"}}}

	want, err := m.Map(split)
	if err != nil {
		t.Fatalf("map split form: %v", err)
	}
	for name, src := range map[string]domain.SourceRecord{"comma": bareComma, "space": bareSpace} {
		got, err := m.Map(src)
		if err != nil {
			t.Fatalf("map %s form: %v", name, err)
		}
		if len(got.Authors) != 1 || got.Authors[0] != want.Authors[0] {
			t.Fatalf("%s form author = %+v, want %+v", name, got.Authors[0], want.Authors[0])
		}
	}
}

func TestUnknownDatasetTypeFails(t *testing.T) {
	m := New(testDefaults())
	src := wellFormedRecord()
	src.DatasetType = "XX"
	_, err := m.Map(src)
	if err == nil {
		t.Fatal("expected mapping error")
	}
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("error type = %T, want *MappingError", err)
	}
	if me.Field != "dataset_type" {
		t.Fatalf("field = %q, want dataset_type", me.Field)
	}
	if me.SourceID != "1523481" {
		t.Fatalf("source id = %q, want 1523481", me.SourceID)
	}
}

func TestOmittedRelatedIdentifiersStayAbsent(t *testing.T) {
	m := New(testDefaults())
	rec, err := m.Map(wellFormedRecord())
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if rec.RelatedIdentifiers != nil {
		t.Fatalf("related_identifiers = %v, want nil", rec.RelatedIdentifiers)
	}
}

func TestRelatedIdentifierDefaults(t *testing.T) {
	m := New(testDefaults())
	src := wellFormedRecord()
	src.RelatedIdentifiers = &domain.SourceRelatedIdentifiers{Detail: []domain.SourceRelatedIdentifier{
		{RelatedIdentifier: "10.1000/xyz"},
	}}
	rec, err := m.Map(src)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(rec.RelatedIdentifiers) != 1 {
		t.Fatalf("related identifier count = %d", len(rec.RelatedIdentifiers))
	}
	ri := rec.RelatedIdentifiers[0]
	if ri.RelatedIdentifierType != "DOI" || ri.RelationType != "IsReferencedBy" {
		t.Fatalf("defaults not applied: %+v", ri)
	}
}

func TestUnparsableDateFails(t *testing.T) {
	m := New(testDefaults())
	src := wellFormedRecord()
	src.PublicationDate = "June 2020"
	_, err := m.Map(src)
	var me *MappingError
	if !errors.As(err, &me) || me.Field != "publication_date" {
		t.Fatalf("expected publication_date mapping error, got %v", err)
	}
}

func TestDateNormalization(t *testing.T) {
	cases := map[string]string{
		"2020-06-15": "06/15/2020",
		"06/15/2020": "06/15/2020",
		"2020-06":    "06/01/2020",
		"2020":       "01/01/2020",
	}
	for in, want := range cases {
		got, err := normalizeDate(in)
		if err != nil {
			t.Fatalf("normalizeDate(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("normalizeDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitContracts(t *testing.T) {
	doe, other := splitContracts("DE-AC02-09CH11466; NSF-1744302")
	if doe != "AC02-09CH11466" {
		t.Fatalf("doe = %q", doe)
	}
	if other != "NSF-1744302" {
		t.Fatalf("other = %q", other)
	}

	// Typos in harvested award strings get normalized.
	doe, _ = splitContracts("DOE-AC-02 09CH11466")
	if !strings.HasPrefix(doe, "AC02") {
		t.Fatalf("normalized doe = %q", doe)
	}
}

func TestMissingDOIFallsBackToOstiID(t *testing.T) {
	m := New(testDefaults())
	src := wellFormedRecord()
	src.DOI = ""
	src.RelatedResource = "https://dataspace.princeton.edu/handle/88435/dsp01abc"
	rec, err := m.Map(src)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if rec.AccessionNum != "1523481" {
		t.Fatalf("accession_num = %q, want osti_id", rec.AccessionNum)
	}
	if rec.SiteURL != src.RelatedResource {
		t.Fatalf("site_url = %q", rec.SiteURL)
	}
}
