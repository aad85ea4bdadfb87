package validate

import (
	"fmt"
	"regexp"

	"ostisync/internal/domain"
)

// FieldError names one violated constraint on a registry record.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationResult carries every violation found in one pass, so a failed
// record is actionable after a single submission attempt.
type ValidationResult struct {
	OK     bool         `json:"ok"`
	Errors []FieldError `json:"errors,omitempty"`
}

func (r ValidationResult) Error() string {
	if r.OK {
		return "valid"
	}
	msg := "invalid record:"
	for _, e := range r.Errors {
		msg += " " + e.Error() + ";"
	}
	return msg
}

var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// Record checks required-field presence, enumerated-value membership, and
// cross-field rules. It never mutates the record and reports all
// violations, not just the first.
func Record(rec domain.RegistryRecord) ValidationResult {
	var errs []FieldError
	require := func(field, value string) {
		if value == "" {
			errs = append(errs, FieldError{Field: field, Reason: "required field is empty"})
		}
	}
	require("title", rec.Title)
	require("dataset_type", rec.DatasetType)
	require("product_type", rec.ProductType)
	require("site_url", rec.SiteURL)
	require("accession_num", rec.AccessionNum)
	require("publication_date", rec.PublicationDate)
	require("contract_nos", rec.ContractNos)
	require("sponsor_org", rec.SponsorOrg)
	require("originating_research_org", rec.OriginatingResearchOrg)

	if rec.DatasetType != "" && !domain.KnownDatasetType(rec.DatasetType) {
		errs = append(errs, FieldError{Field: "dataset_type", Reason: fmt.Sprintf("value %q not in accepted set", rec.DatasetType)})
	}
	if rec.ProductType != "" && !domain.KnownProductType(rec.ProductType) {
		errs = append(errs, FieldError{Field: "product_type", Reason: fmt.Sprintf("value %q not in accepted set", rec.ProductType)})
	}

	if len(rec.Authors) == 0 {
		errs = append(errs, FieldError{Field: "authors", Reason: "at least one author is required"})
	}
	for i, a := range rec.Authors {
		if a.FirstName == "" || a.LastName == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("authors[%d]", i), Reason: "first_name and last_name are required"})
		}
	}

	if rec.DOI != "" && !doiPattern.MatchString(rec.DOI) {
		errs = append(errs, FieldError{Field: "doi", Reason: fmt.Sprintf("value %q does not match DOI format", rec.DOI)})
	}

	for i, ri := range rec.RelatedIdentifiers {
		if ri.RelatedIdentifier == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("related_identifiers[%d]", i), Reason: "identifier value is empty"})
		}
		if !domain.KnownRelatedIdentifierType(ri.RelatedIdentifierType) {
			errs = append(errs, FieldError{Field: fmt.Sprintf("related_identifiers[%d].related_identifier_type", i), Reason: fmt.Sprintf("value %q not in accepted set", ri.RelatedIdentifierType)})
		}
		if !domain.KnownRelationType(ri.RelationType) {
			errs = append(errs, FieldError{Field: fmt.Sprintf("related_identifiers[%d].relation_type", i), Reason: fmt.Sprintf("value %q not in accepted set", ri.RelationType)})
		}
	}

	return ValidationResult{OK: len(errs) == 0, Errors: errs}
}

// Batch checks constraints that only hold across a submission batch:
// doi and accession_num values must be unique. Index keys identify the
// offending records by position.
func Batch(recs []domain.RegistryRecord) []FieldError {
	var errs []FieldError
	seenDOI := map[string]int{}
	seenAccession := map[string]int{}
	for i, rec := range recs {
		if rec.DOI != "" {
			if first, dup := seenDOI[rec.DOI]; dup {
				errs = append(errs, FieldError{
					Field:  fmt.Sprintf("records[%d].doi", i),
					Reason: fmt.Sprintf("duplicate of records[%d] (%s)", first, rec.DOI),
				})
			} else {
				seenDOI[rec.DOI] = i
			}
		}
		if rec.AccessionNum != "" {
			if first, dup := seenAccession[rec.AccessionNum]; dup && rec.AccessionNum != rec.DOI {
				errs = append(errs, FieldError{
					Field:  fmt.Sprintf("records[%d].accession_num", i),
					Reason: fmt.Sprintf("duplicate of records[%d] (%s)", first, rec.AccessionNum),
				})
			} else if !dup {
				seenAccession[rec.AccessionNum] = i
			}
		}
	}
	return errs
}
