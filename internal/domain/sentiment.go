package domain

// Sentiment labels returned by the oracle.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// SentimentResult is a bounded sentiment read for one instrument.
// Score is confidence in the label, clamped to [0,1]. A nil result at a
// call site means the oracle was unavailable.
type SentimentResult struct {
	Label       string
	Score       float64
	Explanation string
}
