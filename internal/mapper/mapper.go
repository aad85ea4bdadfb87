package mapper

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ostisync/internal/config"
	"ostisync/internal/domain"
)

// MappingError reports a source record that cannot be expressed in the
// registry schema. Not retryable; the record is skipped.
type MappingError struct {
	SourceID string
	Field    string
	Reason   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("record %s: cannot map %s: %s", e.SourceID, e.Field, e.Reason)
}

// Mapper converts harvested source records into registry payloads. It is a
// pure transformation: no I/O, deterministic over its input.
type Mapper struct {
	Defaults config.Defaults
}

func New(defaults config.Defaults) Mapper {
	return Mapper{Defaults: defaults}
}

// Accepted publication date layouts, most specific first.
var dateLayouts = []string{"2006-01-02", "01/02/2006", "2006-01", "2006"}

var doePrefix = regexp.MustCompile(`^(DE|AC|SC|FC|FG|AR|EE|EM|FE|NA|NE)`)
var doeSubPrefix = regexp.MustCompile(`^(DE)+(-?)`)

// Common typos and spacing variants seen in harvested award strings.
var contractReplacer = strings.NewReplacer(
	"- ", "-",
	"AC02 ", "AC02-",
	"AC-02", "AC02",
	"SC-0", "SC0",
	"DE ", "DE",
	"DOE-", "DE",
	"DOE ", "",
	"DOE", "",
	"‐", "-",
	"–", "-",
)

// Map converts one source record to a registry record. Malformed input
// fails with a *MappingError naming the offending record's source id.
func (m Mapper) Map(src domain.SourceRecord) (domain.RegistryRecord, error) {
	id := src.OstiID
	if id == "" {
		id = src.DOI
	}

	if src.Title == "" {
		return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: "title", Reason: "missing"}
	}

	datasetType := src.DatasetType
	if datasetType == "" {
		return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: "dataset_type", Reason: "missing"}
	}
	if !domain.KnownDatasetType(datasetType) {
		return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: "dataset_type", Reason: fmt.Sprintf("unknown code %q", datasetType)}
	}

	productType := src.ProductType
	if productType == "" {
		productType = m.Defaults.ProductType
	}
	if !domain.KnownProductType(productType) {
		return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: "product_type", Reason: fmt.Sprintf("unknown code %q", productType)}
	}

	pubDate, err := normalizeDate(src.PublicationDate)
	if err != nil {
		return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: "publication_date", Reason: err.Error()}
	}

	authors := make([]domain.Author, 0, len(src.Authors.Author))
	for i, a := range src.Authors.Author {
		author, err := resolveAuthor(a)
		if err != nil {
			return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: fmt.Sprintf("authors[%d]", i), Reason: err.Error()}
		}
		authors = append(authors, author)
	}

	doe, nonDOE := splitContracts(src.ContractNos)
	if doe == "" {
		doe = m.Defaults.ContractNo
	}

	researchOrg := src.OriginatingResearchOrg
	if researchOrg == "" {
		researchOrg = m.Defaults.ResearchOrg
	}
	siteInputCode := src.SiteInputCode
	if siteInputCode == "" {
		siteInputCode = m.Defaults.SiteInputCode
	}

	rec := domain.RegistryRecord{
		Title:                  src.Title,
		DatasetType:            datasetType,
		ProductType:            productType,
		SiteInputCode:          siteInputCode,
		PublicationDate:        pubDate,
		Authors:                authors,
		ContractNos:            doe,
		OthnondoeContractNos:   nonDOE,
		SponsorOrg:             m.Defaults.SponsorOrg,
		OriginatingResearchOrg: researchOrg,
		ContactName:            src.ContactName,
		ContactOrg:             src.ContactOrg,
		ContactEmail:           src.ContactEmail,
		ContactPhone:           src.ContactPhone,
	}

	if src.DOI != "" {
		rec.DOI = src.DOI
		rec.AccessionNum = src.DOI
		rec.SiteURL = "https://doi.org/" + src.DOI
	} else {
		if src.OstiID == "" {
			return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: "accession_num", Reason: "record has neither doi nor osti_id"}
		}
		rec.AccessionNum = src.OstiID
		rec.SiteURL = src.RelatedResource
	}

	if src.RelatedIdentifiers != nil && len(src.RelatedIdentifiers.Detail) > 0 {
		ids := make([]domain.RelatedIdentifier, 0, len(src.RelatedIdentifiers.Detail))
		for i, d := range src.RelatedIdentifiers.Detail {
			if d.RelatedIdentifier == "" {
				return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: fmt.Sprintf("related_identifiers[%d]", i), Reason: "empty identifier value"}
			}
			idType := d.RelatedIdentifierType
			if idType == "" {
				idType = "DOI"
			}
			relType := d.RelationType
			if relType == "" {
				relType = "IsReferencedBy"
			}
			if !domain.KnownRelatedIdentifierType(idType) {
				return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: fmt.Sprintf("related_identifiers[%d]", i), Reason: fmt.Sprintf("unknown identifier type %q", idType)}
			}
			if !domain.KnownRelationType(relType) {
				return domain.RegistryRecord{}, &MappingError{SourceID: id, Field: fmt.Sprintf("related_identifiers[%d]", i), Reason: fmt.Sprintf("unknown relation type %q", relType)}
			}
			ids = append(ids, domain.RelatedIdentifier{
				RelatedIdentifier:     d.RelatedIdentifier,
				RelatedIdentifierType: idType,
				RelationType:          relType,
			})
		}
		rec.RelatedIdentifiers = ids
	}

	return rec, nil
}

// resolveAuthor picks one of the two source name forms. A bare name is
// split so that it carries the same displayed name as the split form.
func resolveAuthor(a domain.SourceAuthor) (domain.Author, error) {
	if a.FirstName != "" || a.LastName != "" {
		if a.FirstName == "" || a.LastName == "" {
			return domain.Author{}, fmt.Errorf("split name requires both first_name and last_name")
		}
		return domain.Author{FirstName: a.FirstName, MiddleName: a.MiddleName, LastName: a.LastName}, nil
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return domain.Author{}, fmt.Errorf("author has neither name parts nor a bare name")
	}
	// "Last, First" form first, then "First [Middle] Last".
	if before, after, ok := strings.Cut(name, ","); ok {
		last := strings.TrimSpace(before)
		rest := strings.Fields(after)
		if last == "" || len(rest) == 0 {
			return domain.Author{}, fmt.Errorf("unparsable author name %q", name)
		}
		author := domain.Author{FirstName: rest[0], LastName: last}
		if len(rest) > 1 {
			author.MiddleName = strings.Join(rest[1:], " ")
		}
		return author, nil
	}
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return domain.Author{}, fmt.Errorf("unparsable author name %q", name)
	}
	author := domain.Author{FirstName: parts[0], LastName: parts[len(parts)-1]}
	if len(parts) > 2 {
		author.MiddleName = strings.Join(parts[1:len(parts)-1], " ")
	}
	return author, nil
}

// normalizeDate converts an accepted input layout to the registry's
// MM/DD/YYYY wire format. Bare years and year-months pin to January 1st
// and the 1st respectively.
func normalizeDate(in string) (string, error) {
	s := strings.TrimSpace(in)
	if s == "" {
		return "", fmt.Errorf("missing")
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Format("01/02/2006"), nil
		}
	}
	return "", fmt.Errorf("unparsable date %q", in)
}

// splitContracts normalizes a semicolon-separated award string and
// separates DOE contract numbers from other funders'.
func splitContracts(raw string) (doe string, other string) {
	var does, others []string
	for _, part := range strings.Split(raw, ";") {
		grant := strings.TrimSpace(contractReplacer.Replace(part))
		if grant == "" {
			continue
		}
		if doePrefix.MatchString(grant) {
			does = append(does, doeSubPrefix.ReplaceAllString(grant, ""))
		} else {
			others = append(others, grant)
		}
	}
	return strings.Join(does, ";"), strings.Join(others, ";")
}
