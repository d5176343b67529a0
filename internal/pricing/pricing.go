// Package pricing estimates the USD cost of a single API usage
// record, needed by the SQLite sink's api_usage.cost_usd column.
// Table shape is input/output/cache-write/cache-read per-million
// rates with a default entry for unrecognized models; the rates below
// are illustrative and not guaranteed current.
package pricing

// ModelRate holds per-million-token USD rates for one model.
type ModelRate struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheWritePerMillion float64
	CacheReadPerMillion  float64
}

// defaultRate is used for any model not present in the table below
// (original source falls back to its Sonnet-class entry).
var defaultRate = ModelRate{
	InputPerMillion:      3.00,
	OutputPerMillion:     15.00,
	CacheWritePerMillion: 3.75,
	CacheReadPerMillion:  0.30,
}

var rates = map[string]ModelRate{
	"claude-3-5-sonnet-20241022": defaultRate,
	"claude-3-5-haiku-20241022": {
		InputPerMillion:      1.00,
		OutputPerMillion:     5.00,
		CacheWritePerMillion: 1.25,
		CacheReadPerMillion:  0.10,
	},
	"claude-3-opus-20240229": {
		InputPerMillion:      15.00,
		OutputPerMillion:     75.00,
		CacheWritePerMillion: 18.75,
		CacheReadPerMillion:  1.50,
	},
	"claude-3-haiku-20240307": {
		InputPerMillion:      0.25,
		OutputPerMillion:     1.25,
		CacheWritePerMillion: 0.30,
		CacheReadPerMillion:  0.03,
	},
}

// RateFor returns the rate table entry for model, falling back to the
// default entry for unrecognized models.
func RateFor(model string) ModelRate {
	if r, ok := rates[model]; ok {
		return r
	}
	return defaultRate
}

// TokenUsage is the subset of an ApiUsage event pricing needs.
type TokenUsage struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// EstimateCostUSD computes the USD cost of usage for model.
func EstimateCostUSD(model string, usage TokenUsage) float64 {
	r := RateFor(model)
	const million = 1_000_000.0
	cost := float64(usage.InputTokens) / million * r.InputPerMillion
	cost += float64(usage.OutputTokens) / million * r.OutputPerMillion
	cost += float64(usage.CacheCreationTokens) / million * r.CacheWritePerMillion
	cost += float64(usage.CacheReadTokens) / million * r.CacheReadPerMillion
	return cost
}
