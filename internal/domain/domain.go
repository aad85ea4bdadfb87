package domain

// SourceRecord is one raw metadata record as returned by the repository API.
// Fields are optional unless the mapper says otherwise; presence is checked
// at the mapping boundary, never assumed.
type SourceRecord struct {
	SiteInputCode          string                    `json:"site_input_code,omitempty"`
	OstiID                 string                    `json:"osti_id,omitempty"`
	DatasetType            string                    `json:"dataset_type,omitempty"`
	Title                  string                    `json:"title,omitempty"`
	Authors                SourceAuthors             `json:"authors"`
	RelatedResource        string                    `json:"related_resource,omitempty"`
	ProductType            string                    `json:"product_type,omitempty"`
	ContractNos            string                    `json:"contract_nos,omitempty"`
	OriginatingResearchOrg string                    `json:"originating_research_org,omitempty"`
	PublicationDate        string                    `json:"publication_date,omitempty"`
	DOI                    string                    `json:"doi,omitempty"`
	ContactName            string                    `json:"contact_name,omitempty"`
	ContactOrg             string                    `json:"contact_org,omitempty"`
	ContactEmail           string                    `json:"contact_email,omitempty"`
	ContactPhone           string                    `json:"contact_phone,omitempty"`
	Status                 string                    `json:"@status,omitempty"`
	Released               string                    `json:"@released,omitempty"`
	RelatedIdentifiers     *SourceRelatedIdentifiers `json:"related_identifiers,omitempty"`
}

type SourceAuthors struct {
	Author []SourceAuthor `json:"author"`
}

// SourceAuthor carries either split name parts or a single free-text name.
// At least one representation must be present for the record to map.
type SourceAuthor struct {
	FirstName  string `json:"first_name,omitempty"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Name       string `json:"name,omitempty"`
}

type SourceRelatedIdentifiers struct {
	Detail []SourceRelatedIdentifier `json:"detail"`
}

type SourceRelatedIdentifier struct {
	RelatedIdentifier     string `json:"related_identifier"`
	RelatedIdentifierType string `json:"related_identifier_type"`
	RelationType          string `json:"relation_type"`
}

// Author is the registry's author shape after name resolution.
type Author struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name"`
}

type RelatedIdentifier struct {
	RelatedIdentifier     string `json:"related_identifier"`
	RelatedIdentifierType string `json:"related_identifier_type"`
	RelationType          string `json:"relation_type"`
}

// RegistryRecord is the payload shape the registry write endpoint accepts.
// RelatedIdentifiers stays nil when the source supplied none; the registry
// distinguishes an absent field from an empty list.
type RegistryRecord struct {
	Title                  string              `json:"title"`
	DatasetType            string              `json:"dataset_type"`
	ProductType            string              `json:"product_type"`
	SiteInputCode          string              `json:"site_input_code"`
	SiteURL                string              `json:"site_url"`
	AccessionNum           string              `json:"accession_num"`
	DOI                    string              `json:"doi,omitempty"`
	PublicationDate        string              `json:"publication_date"`
	Authors                []Author            `json:"authors"`
	ContractNos            string              `json:"contract_nos"`
	OthnondoeContractNos   string              `json:"othnondoe_contract_nos,omitempty"`
	SponsorOrg             string              `json:"sponsor_org"`
	OriginatingResearchOrg string              `json:"originating_research_org"`
	Description            string              `json:"description,omitempty"`
	Keywords               string              `json:"keywords,omitempty"`
	RelatedIdentifiers     []RelatedIdentifier `json:"related_identifiers,omitempty"`
	ContactName            string              `json:"contact_name,omitempty"`
	ContactOrg             string              `json:"contact_org,omitempty"`
	ContactEmail           string              `json:"contact_email,omitempty"`
	ContactPhone           string              `json:"contact_phone,omitempty"`
}

// Outcome statuses for a submission attempt.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusSkipped = "SKIPPED"
)

// SubmissionOutcome is the recorded result of attempting to submit one
// record. Never mutated after creation.
type SubmissionOutcome struct {
	RunID       string `json:"run_id,omitempty"`
	SourceID    string `json:"source_id"`
	DOI         string `json:"doi,omitempty"`
	Status      string `json:"status" enum:"SUCCESS,FAILURE,SKIPPED"`
	OstiID      string `json:"osti_id,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Run is one harvest or post invocation.
type Run struct {
	ID         string `json:"id"`
	Kind       string `json:"kind" enum:"harvest,post"`
	Mode       string `json:"mode,omitempty"`
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at,omitempty" format:"date-time"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Note       string `json:"note,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// DatasetTypes enumerates the registry's accepted dataset type codes.
var DatasetTypes = []string{"AS", "GD", "IM", "ND", "IP", "FP", "SM", "MM", "I", "DA"}

// ProductTypes enumerates accepted product type codes for dataset submission.
var ProductTypes = []string{"DA"}

// RelationTypes enumerates accepted related-identifier relation types.
var RelationTypes = []string{"IsReferencedBy", "IsCitedBy", "Cites", "IsSupplementTo", "IsSupplementedBy"}

// RelatedIdentifierTypes enumerates accepted related-identifier type codes.
var RelatedIdentifierTypes = []string{"DOI", "URL"}

// KnownDatasetType reports whether code is an accepted dataset type.
func KnownDatasetType(code string) bool { return contains(DatasetTypes, code) }

// KnownProductType reports whether code is an accepted product type.
func KnownProductType(code string) bool { return contains(ProductTypes, code) }

// KnownRelationType reports whether code is an accepted relation type.
func KnownRelationType(code string) bool { return contains(RelationTypes, code) }

// KnownRelatedIdentifierType reports whether code is an accepted identifier type.
func KnownRelatedIdentifierType(code string) bool { return contains(RelatedIdentifierTypes, code) }

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
