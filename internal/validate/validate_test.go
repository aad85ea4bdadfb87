package validate

import (
	"strings"
	"testing"

	"ostisync/internal/domain"
)

func validRecord() domain.RegistryRecord {
	return domain.RegistryRecord{
		Title:                  "Plasma rotation measurements",
		DatasetType:            "SM",
		ProductType:            "DA",
		SiteInputCode:          "PPPL",
		SiteURL:                "https://doi.org/10.11578/1523481",
		AccessionNum:           "10.11578/1523481",
		DOI:                    "10.11578/1523481",
		PublicationDate:        "06/15/2020",
		Authors:                []domain.Author{{FirstName: "John", LastName: "Smith"}},
		ContractNos:            "AC02-09CH11466",
		SponsorOrg:             "USDOE Office of Science (SC)",
		OriginatingResearchOrg: "Princeton Plasma Physics Laboratory (PPPL)",
	}
}

func hasFieldError(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidRecordPasses(t *testing.T) {
	res := Record(validRecord())
	if !res.OK {
		t.Fatalf("expected valid, got: %s", res.Error())
	}
}

func TestAllViolationsReportedInOnePass(t *testing.T) {
	rec := validRecord()
	rec.Title = ""
	rec.PublicationDate = ""
	rec.Authors = nil
	res := Record(rec)
	if res.OK {
		t.Fatal("expected invalid")
	}
	for _, field := range []string{"title", "publication_date", "authors"} {
		if !hasFieldError(res.Errors, field) {
			t.Fatalf("missing violation for %s in %v", field, res.Errors)
		}
	}
}

func TestUnknownDatasetTypeNamed(t *testing.T) {
	rec := validRecord()
	rec.DatasetType = "XX"
	res := Record(rec)
	if res.OK || !hasFieldError(res.Errors, "dataset_type") {
		t.Fatalf("expected dataset_type violation, got %v", res.Errors)
	}
	if !strings.Contains(res.Error(), "dataset_type") {
		t.Fatalf("error text should name the field: %s", res.Error())
	}
}

func TestDOIFormat(t *testing.T) {
	rec := validRecord()
	rec.DOI = "not-a-doi"
	res := Record(rec)
	if res.OK || !hasFieldError(res.Errors, "doi") {
		t.Fatalf("expected doi violation, got %v", res.Errors)
	}
}

func TestAuthorNameParts(t *testing.T) {
	rec := validRecord()
	rec.Authors = []domain.Author{{FirstName: "John"}}
	res := Record(rec)
	if res.OK || !hasFieldError(res.Errors, "authors[0]") {
		t.Fatalf("expected authors[0] violation, got %v", res.Errors)
	}
}

func TestRelatedIdentifierEnums(t *testing.T) {
	rec := validRecord()
	rec.RelatedIdentifiers = []domain.RelatedIdentifier{
		{RelatedIdentifier: "10.1000/xyz", RelatedIdentifierType: "ISBN", RelationType: "References"},
	}
	res := Record(rec)
	if res.OK {
		t.Fatal("expected invalid")
	}
	if !hasFieldError(res.Errors, "related_identifiers[0].related_identifier_type") {
		t.Fatalf("expected identifier type violation, got %v", res.Errors)
	}
	if !hasFieldError(res.Errors, "related_identifiers[0].relation_type") {
		t.Fatalf("expected relation type violation, got %v", res.Errors)
	}
}

func TestBatchDuplicateDOI(t *testing.T) {
	a := validRecord()
	b := validRecord()
	c := validRecord()
	c.DOI = "10.11578/other"
	c.AccessionNum = c.DOI
	c.SiteURL = "https://doi.org/" + c.DOI

	errs := Batch([]domain.RegistryRecord{a, b, c})
	if !hasFieldError(errs, "records[1].doi") {
		t.Fatalf("expected duplicate doi on records[1], got %v", errs)
	}
	if hasFieldError(errs, "records[2].doi") {
		t.Fatalf("records[2] should be clean, got %v", errs)
	}
}

func TestBatchDuplicateAccession(t *testing.T) {
	a := validRecord()
	a.DOI = ""
	a.AccessionNum = "1523481"
	b := validRecord()
	b.DOI = ""
	b.AccessionNum = "1523481"
	errs := Batch([]domain.RegistryRecord{a, b})
	if !hasFieldError(errs, "records[1].accession_num") {
		t.Fatalf("expected duplicate accession_num on records[1], got %v", errs)
	}
}
