package metadata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/search-agent/internal/domain"
)

// docMetaResponse is the JSON representation of one version served by the
// docmeta service.
type docMetaResponse struct {
	PaperID            string                  `json:"paper_id" validate:"required"`
	Version            int                     `json:"version" validate:"gte=1"`
	Title              string                  `json:"title" validate:"required"`
	SubmittedDate      string                  `json:"submitted_date" validate:"required"`
	Abstract           string                  `json:"abstract"`
	Authors            string                  `json:"authors"`
	AuthorsParsed      []domain.Person         `json:"authors_parsed"`
	Submitter          *domain.Person          `json:"submitter"`
	AnnouncedDateFirst string                  `json:"announced_date_first"`
	ModifiedDate       string                  `json:"modified_date"`
	UpdatedDate        string                  `json:"updated_date"`
	IsCurrent          *bool                   `json:"is_current"`
	IsWithdrawn        bool                    `json:"is_withdrawn"`
	LatestVersion      int                     `json:"latest_version" validate:"gte=0"`
	License            domain.License          `json:"license"`
	Primary            *domain.Classification  `json:"primary_classification"`
	Secondary          []domain.Classification `json:"secondary_classification"`
	AbsCategories      string                  `json:"abs_categories"`
	DOI                string                  `json:"doi"`
	JournalRef         string                  `json:"journal_ref"`
	Comments           string                  `json:"comments"`
	ReportNum          string                  `json:"report_num"`
	MSCClass           string                  `json:"msc_class"`
	ACMClass           string                  `json:"acm_class"`
	Formats            []string                `json:"formats"`
}

// dateLayouts are the submitted_date formats produced by the service.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// shortOffset matches a three digit numeric zone offset such as "-400".
var shortOffset = regexp.MustCompile(`([+-])(\d{3})$`)

// parseDate parses a submission timestamp. Dates without a zone are taken to
// be UTC.
func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	s = shortOffset.ReplaceAllString(s, "${1}0${2}")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// toDocMeta validates a response entry and converts it to the domain type.
func (c *Client) toDocMeta(resp *docMetaResponse) (*domain.DocMeta, error) {
	if err := c.validate.Struct(resp); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: field %s failed %q validation", ErrBadResponse, verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	submitted, err := parseDate(resp.SubmittedDate)
	if err != nil {
		return nil, fmt.Errorf("%w: submitted_date: %v", ErrBadResponse, err)
	}

	isCurrent := resp.LatestVersion == 0 || resp.Version == resp.LatestVersion
	if resp.IsCurrent != nil {
		isCurrent = *resp.IsCurrent
	}

	return &domain.DocMeta{
		PaperID:                  resp.PaperID,
		Version:                  resp.Version,
		Title:                    resp.Title,
		Abstract:                 resp.Abstract,
		Authors:                  resp.Authors,
		AuthorsParsed:            resp.AuthorsParsed,
		Submitter:                resp.Submitter,
		SubmittedDate:            submitted,
		AnnouncedDateFirst:       resp.AnnouncedDateFirst,
		ModifiedDate:             resp.ModifiedDate,
		UpdatedDate:              resp.UpdatedDate,
		IsCurrent:                isCurrent,
		IsWithdrawn:              resp.IsWithdrawn,
		LatestVersion:            resp.LatestVersion,
		License:                  resp.License,
		PrimaryClassification:    resp.Primary,
		SecondaryClassifications: resp.Secondary,
		AbsCategories:            resp.AbsCategories,
		DOI:                      resp.DOI,
		JournalRef:               resp.JournalRef,
		Comments:                 resp.Comments,
		ReportNum:                resp.ReportNum,
		MSCClass:                 resp.MSCClass,
		ACMClass:                 resp.ACMClass,
		Formats:                  resp.Formats,
	}, nil
}
