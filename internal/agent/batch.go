package agent

import (
	"context"
	"errors"
)

// PaperFailure describes a paper skipped by IndexPapers.
type PaperFailure struct {
	PaperID   string `json:"paper_id"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// BatchReport summarises an IndexPapers run.
type BatchReport struct {
	Indexed []string       `json:"indexed"`
	Failed  []PaperFailure `json:"failed"`
}

// IndexPapers indexes each paper in turn. Papers that fail permanently are
// listed in the report and skipped. The first transient failure stops the
// run and is returned with the report of the papers handled so far.
func (p *Processor) IndexPapers(ctx context.Context, paperIDs []string) (BatchReport, error) {
	report := BatchReport{Indexed: []string{}, Failed: []PaperFailure{}}

	for _, paperID := range paperIDs {
		err := p.IndexPaper(ctx, paperID)
		if err == nil {
			report.Indexed = append(report.Indexed, paperID)
			continue
		}
		if !errors.Is(err, ErrDocumentFailed) {
			return report, err
		}

		failure := PaperFailure{PaperID: paperID, Operation: opOf(err), Reason: err.Error()}
		var classified *Error
		if errors.As(err, &classified) && classified.Err != nil {
			failure.Reason = classified.Err.Error()
		}
		report.Failed = append(report.Failed, failure)
		p.logger.Warn().Err(err).Str("paper_id", paperID).Msg("skipping paper")
	}

	p.logger.Info().
		Int("indexed", len(report.Indexed)).
		Int("failed", len(report.Failed)).
		Msg("batch complete")
	return report, nil
}
