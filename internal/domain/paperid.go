package domain

import (
	"regexp"
	"strings"
)

var (
	// New-style identifiers: YYMM.NNNN or YYMM.NNNNN.
	newStyleID = regexp.MustCompile(`^\d{4}\.\d{4,5}$`)
	// Old-style identifiers: archive[.subject]/YYMMNNN.
	oldStyleID = regexp.MustCompile(`^[a-z]+(-[a-z]+)?(\.[A-Z]{2})?/\d{7}$`)
	// Version affix, e.g. "v3".
	versionAffix = regexp.MustCompile(`v\d+$`)
)

// NormalizePaperID trims whitespace and drops a trailing version affix,
// returning a ValidationError when the remainder is not an arXiv identifier.
func NormalizePaperID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "arXiv:")
	id = versionAffix.ReplaceAllString(id, "")
	if !IsValidPaperID(id) {
		return "", NewValidationError("paper_id", "not an arXiv identifier: "+raw)
	}
	return id, nil
}

// IsValidPaperID reports whether id is an unversioned arXiv identifier.
func IsValidPaperID(id string) bool {
	return newStyleID.MatchString(id) || oldStyleID.MatchString(id)
}
