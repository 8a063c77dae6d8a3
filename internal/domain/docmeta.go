// Package domain provides the data model shared by the search indexing agent.
package domain

import "time"

// Person is an author or submitter as described by the metadata service.
type Person struct {
	FullName    string   `json:"full_name,omitempty"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Suffix      string   `json:"suffix,omitempty"`
	Affiliation []string `json:"affiliation,omitempty"`
	ORCID       string   `json:"orcid,omitempty"`
	AuthorID    string   `json:"author_id,omitempty"`
}

// Name returns the display name of the person, composing it from parts when
// no full name was supplied.
func (p Person) Name() string {
	if p.FullName != "" {
		return p.FullName
	}
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	if p.Suffix != "" && name != "" {
		name += " " + p.Suffix
	}
	return name
}

// Classification identifies an arXiv group, archive and category.
type Classification struct {
	Group    *Term `json:"group,omitempty"`
	Archive  *Term `json:"archive,omitempty"`
	Category *Term `json:"category,omitempty"`
}

// Term is one level of a classification.
type Term struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// License describes the license a version was submitted under.
type License struct {
	URI   string `json:"uri,omitempty"`
	Label string `json:"label,omitempty"`
}

// DocMeta is the authoritative metadata of a single paper version.
// Values are treated as immutable once retrieved from the metadata service.
type DocMeta struct {
	PaperID       string
	Version       int
	Title         string
	Abstract      string
	Authors       string
	AuthorsParsed []Person
	Submitter     *Person

	SubmittedDate      time.Time
	AnnouncedDateFirst string
	ModifiedDate       string
	UpdatedDate        string

	IsCurrent     bool
	IsWithdrawn   bool
	LatestVersion int

	License                  License
	PrimaryClassification    *Classification
	SecondaryClassifications []Classification
	AbsCategories            string

	DOI        string
	JournalRef string
	Comments   string
	ReportNum  string
	MSCClass   string
	ACMClass   string
	Formats    []string
}
