package domain

import "time"

// Aggregation carries cross-version context through successive transform
// calls for one paper. It is a value type: With returns a new Aggregation and
// never modifies the receiver, so an Aggregation captured for version k keeps
// describing versions 1..k.
type Aggregation struct {
	dates         []time.Time
	latestVersion int
	latestDate    time.Time
}

// NewAggregation returns an Aggregation that knows the latest version of the
// paper and its submission date.
func NewAggregation(latestVersion int, latestDate time.Time) Aggregation {
	return Aggregation{latestVersion: latestVersion, latestDate: latestDate}
}

// With returns a copy of a extended by the submission date of the next version.
func (a Aggregation) With(date time.Time) Aggregation {
	dates := make([]time.Time, len(a.dates), len(a.dates)+1)
	copy(dates, a.dates)
	next := a
	next.dates = append(dates, date)
	if len(next.dates) > next.latestVersion {
		next.latestVersion = len(next.dates)
		next.latestDate = date
	}
	return next
}

// SubmittedDates returns the submission dates seen so far, ascending by version.
func (a Aggregation) SubmittedDates() []time.Time {
	out := make([]time.Time, len(a.dates))
	copy(out, a.dates)
	return out
}

// Len returns the number of versions aggregated so far.
func (a Aggregation) Len() int {
	return len(a.dates)
}

// First returns the submission date of version 1.
func (a Aggregation) First() time.Time {
	if len(a.dates) == 0 {
		return time.Time{}
	}
	return a.dates[0]
}

// LatestVersion returns the highest version known for the paper.
func (a Aggregation) LatestVersion() int {
	return a.latestVersion
}

// LatestDate returns the submission date of the latest known version.
func (a Aggregation) LatestDate() time.Time {
	return a.latestDate
}
