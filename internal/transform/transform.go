// Package transform maps paper version metadata onto search documents.
package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/helixir/search-agent/internal/domain"
)

var (
	doiSeparator   = regexp.MustCompile(`[\s,;]+`)
	mscSeparator   = regexp.MustCompile(`\s*[,;]\s*`)
	acmSeparator   = regexp.MustCompile(`\s*;\s*`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
	authorSplit    = regexp.MustCompile(`\s*(?:,|\band\b)\s*`)
)

// Transformer converts DocMeta values into search documents.
type Transformer struct{}

// New creates a Transformer.
func New() *Transformer {
	return &Transformer{}
}

// ToSearchDocument builds the search document for meta. agg must already
// include meta's own submission date as its last entry.
func (t *Transformer) ToSearchDocument(meta *domain.DocMeta, agg domain.Aggregation) (*domain.Document, error) {
	if meta == nil {
		return nil, domain.NewValidationError("docmeta", "nil metadata")
	}
	if meta.PaperID == "" {
		return nil, domain.NewValidationError("paper_id", "required")
	}
	if meta.Version < 1 {
		return nil, domain.NewValidationError("version", fmt.Sprintf("must be >= 1, got %d", meta.Version))
	}
	if meta.SubmittedDate.IsZero() {
		return nil, domain.NewValidationError("submitted_date", "required")
	}
	if agg.Len() != meta.Version {
		return nil, domain.NewValidationError("submitted_date_all",
			fmt.Sprintf("history has %d dates for version %d", agg.Len(), meta.Version))
	}

	dates := agg.SubmittedDates()
	all := make([]string, len(dates))
	for i, d := range dates {
		all[i] = domain.FormatDate(d)
	}

	latestVersion := max(meta.LatestVersion, agg.LatestVersion(), meta.Version)
	latestDate := agg.LatestDate()
	if latestVersion == meta.Version || latestDate.IsZero() {
		latestDate = meta.SubmittedDate
	}

	doc := &domain.Document{
		ID:       domain.VersionedID(meta.PaperID, meta.Version),
		PaperID:  meta.PaperID,
		PaperIDV: domain.VersionedID(meta.PaperID, meta.Version),
		Version:  meta.Version,

		Title:    collapse(meta.Title),
		Abstract: strings.TrimSpace(meta.Abstract),

		Authors:         authors(meta),
		AuthorsFreeform: collapse(meta.Authors),
		Submitter:       meta.Submitter,

		SubmittedDate:       domain.FormatDate(meta.SubmittedDate),
		SubmittedDateAll:    all,
		SubmittedDateFirst:  domain.FormatDate(agg.First()),
		SubmittedDateLatest: domain.FormatDate(latestDate),
		AnnouncedDateFirst:  meta.AnnouncedDateFirst,
		ModifiedDate:        meta.ModifiedDate,
		UpdatedDate:         meta.UpdatedDate,

		IsCurrent:     meta.Version == latestVersion,
		IsWithdrawn:   meta.IsWithdrawn,
		LatestVersion: latestVersion,
		Latest:        domain.VersionedID(meta.PaperID, latestVersion),

		License:                  meta.License,
		PrimaryClassification:    meta.PrimaryClassification,
		SecondaryClassifications: meta.SecondaryClassifications,
		AbsCategories:            meta.AbsCategories,

		DOI:        split(doiSeparator, meta.DOI),
		JournalRef: collapse(meta.JournalRef),
		Comments:   collapse(meta.Comments),
		ReportNum:  collapse(meta.ReportNum),
		MSCClass:   split(mscSeparator, meta.MSCClass),
		ACMClass:   split(acmSeparator, meta.ACMClass),
		Formats:    meta.Formats,
	}
	return doc, nil
}

// authors prefers the parsed author list and falls back to the freeform one.
func authors(meta *domain.DocMeta) []domain.Person {
	if len(meta.AuthorsParsed) > 0 {
		out := make([]domain.Person, len(meta.AuthorsParsed))
		for i, p := range meta.AuthorsParsed {
			p.FullName = p.Name()
			out[i] = p
		}
		return out
	}
	var out []domain.Person
	for _, name := range authorSplit.Split(meta.Authors, -1) {
		if name = collapse(name); name != "" {
			out = append(out, domain.Person{FullName: name})
		}
	}
	return out
}

func split(sep *regexp.Regexp, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range sep.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}
