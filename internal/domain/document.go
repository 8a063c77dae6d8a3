package domain

import (
	"fmt"
	"time"
)

// DateLayout is the layout used for dates serialized into search documents.
const DateLayout = "2006-01-02T15:04:05-0700"

// Document is the search-engine projection of one paper version.
// A Document is never mutated after it has been produced.
type Document struct {
	ID       string `json:"id"`
	PaperID  string `json:"paper_id"`
	PaperIDV string `json:"paper_id_v"`
	Version  int    `json:"version"`

	Title    string `json:"title"`
	Abstract string `json:"abstract,omitempty"`

	Authors         []Person `json:"authors,omitempty"`
	AuthorsFreeform string   `json:"authors_freeform,omitempty"`
	Submitter       *Person  `json:"submitter,omitempty"`

	SubmittedDate       string   `json:"submitted_date"`
	SubmittedDateAll    []string `json:"submitted_date_all"`
	SubmittedDateFirst  string   `json:"submitted_date_first"`
	SubmittedDateLatest string   `json:"submitted_date_latest"`
	AnnouncedDateFirst  string   `json:"announced_date_first,omitempty"`
	ModifiedDate        string   `json:"modified_date,omitempty"`
	UpdatedDate         string   `json:"updated_date,omitempty"`

	IsCurrent     bool   `json:"is_current"`
	IsWithdrawn   bool   `json:"is_withdrawn"`
	LatestVersion int    `json:"latest_version"`
	Latest        string `json:"latest"`

	License                  License          `json:"license"`
	PrimaryClassification    *Classification  `json:"primary_classification,omitempty"`
	SecondaryClassifications []Classification `json:"secondary_classification,omitempty"`
	AbsCategories            string           `json:"abs_categories,omitempty"`

	DOI        []string `json:"doi,omitempty"`
	JournalRef string   `json:"journal_ref,omitempty"`
	Comments   string   `json:"comments,omitempty"`
	ReportNum  string   `json:"report_num,omitempty"`
	MSCClass   []string `json:"msc_class,omitempty"`
	ACMClass   []string `json:"acm_class,omitempty"`
	Formats    []string `json:"formats,omitempty"`
}

// VersionedID returns the index key of a paper version, e.g. "1234.56789v2".
func VersionedID(paperID string, version int) string {
	return fmt.Sprintf("%sv%d", paperID, version)
}

// FormatDate renders t the way dates are stored in search documents.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
