package pricing

import "testing"

func TestEstimateCostUSD_KnownModel(t *testing.T) {
	cost := EstimateCostUSD("claude-3-5-haiku-20241022", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if cost != 1.00+5.00 {
		t.Fatalf("unexpected cost: %v", cost)
	}
}

func TestEstimateCostUSD_UnknownModelUsesDefault(t *testing.T) {
	cost := EstimateCostUSD("some-future-model", TokenUsage{InputTokens: 1_000_000})
	if cost != defaultRate.InputPerMillion {
		t.Fatalf("unexpected cost: %v", cost)
	}
}
