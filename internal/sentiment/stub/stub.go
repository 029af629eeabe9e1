// Package stub provides a canned sentiment oracle for tests.
package stub

import (
	"context"

	"cfd-trader/internal/domain"
	"cfd-trader/internal/sentiment"
)

// Oracle implements sentiment.Oracle from fixed data. Results are served
// per instrument, falling back to Default; set Err to make every call fail.
type Oracle struct {
	Results map[string]*domain.SentimentResult
	Default *domain.SentimentResult
	Err     error

	// Requests records every scoring request in call order.
	Requests []sentiment.Request
}

var _ sentiment.Oracle = (*Oracle)(nil)

// New creates a stub oracle that answers neutral with the given score.
func New(score float64) *Oracle {
	return &Oracle{
		Results: make(map[string]*domain.SentimentResult),
		Default: &domain.SentimentResult{Label: domain.SentimentNeutral, Score: score},
	}
}

// Add seeds a result for one instrument.
func (o *Oracle) Add(instrument string, res *domain.SentimentResult) {
	o.Results[instrument] = res
}

// Score returns the seeded result for the instrument.
func (o *Oracle) Score(_ context.Context, req sentiment.Request) (*domain.SentimentResult, error) {
	o.Requests = append(o.Requests, req)
	if o.Err != nil {
		return nil, o.Err
	}
	if res, ok := o.Results[req.Instrument]; ok {
		return res, nil
	}
	return o.Default, nil
}
