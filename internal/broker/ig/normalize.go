package ig

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"cfd-trader/internal/domain"
)

// The dealing API is loose about numeric types: contractSize arrives as a
// string on some instruments and a number on others. flexFloat accepts both.
type flexFloat struct {
	val float64
	ok  bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Tolerate junk the same way missing values are tolerated.
		return nil
	}
	f.val = v
	f.ok = true
	return nil
}

func (f flexFloat) or(def float64) float64 {
	if f.ok {
		return f.val
	}
	return def
}

// Candle timestamps come back in several shapes depending on endpoint
// version; all are UTC wall-clock times.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02 15:04:05",
}

func parseAPITime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// --- /prices ---

type pricesResponse struct {
	Prices []priceRow `json:"prices"`
}

type priceRow struct {
	SnapshotTimeUTC  string   `json:"snapshotTimeUTC"`
	SnapshotTime     string   `json:"snapshotTime"`
	OpenPrice        quote    `json:"openPrice"`
	HighPrice        quote    `json:"highPrice"`
	LowPrice         quote    `json:"lowPrice"`
	ClosePrice       quote    `json:"closePrice"`
	LastTradedVolume *float64 `json:"lastTradedVolume"`
}

type quote struct {
	Bid        *float64 `json:"bid"`
	Ask        *float64 `json:"ask"`
	LastTraded *float64 `json:"lastTraded"`
}

// mid averages bid/ask when both sides are quoted, otherwise falls back to
// the last traded level.
func (q quote) mid() *float64 {
	if q.Bid != nil && q.Ask != nil {
		m := (*q.Bid + *q.Ask) / 2.0
		return &m
	}
	return q.LastTraded
}

// normalizeBars converts the raw price rows into ascending-time bars.
// Rows without a parseable timestamp or a close are dropped; partial OHLC
// is kept with zero placeholders.
func normalizeBars(rows []priceRow) []domain.Bar {
	bars := make([]domain.Bar, 0, len(rows))
	for _, r := range rows {
		ts := r.SnapshotTimeUTC
		if ts == "" {
			ts = r.SnapshotTime
		}
		t, ok := parseAPITime(ts)
		if !ok {
			continue
		}
		cl := r.ClosePrice.mid()
		if cl == nil {
			continue
		}
		b := domain.Bar{Time: t, Close: *cl}
		if v := r.OpenPrice.mid(); v != nil {
			b.Open = *v
		}
		if v := r.HighPrice.mid(); v != nil {
			b.High = *v
		}
		if v := r.LowPrice.mid(); v != nil {
			b.Low = *v
		}
		if r.LastTradedVolume != nil {
			b.Volume = *r.LastTradedVolume
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars
}

// --- /markets/{epic} ---

type marketResponse struct {
	Instrument   marketInstrument `json:"instrument"`
	DealingRules *dealingRules    `json:"dealingRules"`
	Snapshot     marketSnapshot   `json:"snapshot"`
}

type marketInstrument struct {
	Name         string           `json:"name"`
	ContractSize flexFloat        `json:"contractSize"`
	Currencies   []marketCurrency `json:"currencies"`
	DealingRules *dealingRules    `json:"dealingRules"`
}

type marketCurrency struct {
	Code string `json:"code"`
}

type dealingRules struct {
	MinDealSize                  unitValue `json:"minDealSize"`
	MinStopOrLimitDistance       unitValue `json:"minStopOrLimitDistance"`
	MinNormalStopOrLimitDistance unitValue `json:"minNormalStopOrLimitDistance"`
	MinStopDistance              unitValue `json:"minStopDistance"`
}

type unitValue struct {
	Value flexFloat `json:"value"`
	Step  flexFloat `json:"step"`
}

type marketSnapshot struct {
	MarketStatus string `json:"marketStatus"`
}

// normalizeMarket flattens the market response into dealing metadata.
// contractSize is the currency value of one point at size 1.0 on index and
// commodity CFDs; a missing value normalizes to 0 and sizing rejects it.
func normalizeMarket(epic string, payload *marketResponse) *domain.MarketMetadata {
	rules := payload.DealingRules
	if rules == nil {
		rules = payload.Instrument.DealingRules
	}
	if rules == nil {
		rules = &dealingRules{}
	}

	minSize := rules.MinDealSize.Value.or(1.0)
	step := rules.MinDealSize.Step.or(minSize)

	minStop := rules.MinStopOrLimitDistance.Value
	if !minStop.ok {
		minStop = rules.MinNormalStopOrLimitDistance.Value
	}
	if !minStop.ok {
		minStop = rules.MinStopDistance.Value
	}

	currency := "GBP"
	if len(payload.Instrument.Currencies) > 0 && payload.Instrument.Currencies[0].Code != "" {
		currency = payload.Instrument.Currencies[0].Code
	}

	name := payload.Instrument.Name
	if name == "" {
		name = epic
	}

	return &domain.MarketMetadata{
		Epic:            epic,
		Name:            name,
		PointValue:      payload.Instrument.ContractSize.or(0),
		MinSize:         minSize,
		SizeStep:        step,
		MinStopDistance: minStop.or(0),
		Currency:        currency,
		TradeableStatus: payload.Snapshot.MarketStatus,
	}
}

// --- /positions ---

type positionsResponse struct {
	Positions []positionWrapper `json:"positions"`
}

type positionWrapper struct {
	Position positionBody   `json:"position"`
	Market   positionMarket `json:"market"`
}

type positionBody struct {
	DealID         string    `json:"dealId"`
	Direction      string    `json:"direction"`
	Size           flexFloat `json:"size"`
	Level          flexFloat `json:"level"`
	StopLevel      *float64  `json:"stopLevel"`
	LimitLevel     *float64  `json:"limitLevel"`
	CreatedDateUTC string    `json:"createdDateUTC"`
	CreatedDate    string    `json:"createdDate"`
}

type positionMarket struct {
	Epic           string `json:"epic"`
	InstrumentName string `json:"instrumentName"`
}

func normalizePositions(payload *positionsResponse) []domain.Position {
	out := make([]domain.Position, 0, len(payload.Positions))
	for _, w := range payload.Positions {
		if w.Position.DealID == "" || w.Market.Epic == "" {
			continue
		}
		p := domain.Position{
			DealID:     w.Position.DealID,
			Epic:       w.Market.Epic,
			Direction:  domain.Signal(strings.ToUpper(w.Position.Direction)),
			Size:       w.Position.Size.or(0),
			Level:      w.Position.Level.or(0),
			StopLevel:  w.Position.StopLevel,
			LimitLevel: w.Position.LimitLevel,
			Name:       w.Market.InstrumentName,
		}
		ts := w.Position.CreatedDateUTC
		if ts == "" {
			ts = w.Position.CreatedDate
		}
		if t, ok := parseAPITime(ts); ok {
			p.CreatedUTC = t
		}
		out = append(out, p)
	}
	return out
}

// --- /session ---

type sessionResponse struct {
	CurrentAccountID string       `json:"currentAccountId"`
	AccountID        string       `json:"accountId"`
	AccountInfo      *accountInfo `json:"accountInfo"`
}

type accountInfo struct {
	Balance *float64 `json:"balance"`
}

// --- /positions/otc ---

type dealReferenceResponse struct {
	DealReference string `json:"dealReference"`
}
