package events

import "testing"

func TestMerge_Associative(t *testing.T) {
	a := NewStats()
	a.TotalRequests = 1
	a.RecordAPIUsage(Event{Model: "m", InputTokens: 10, OutputTokens: 5})

	b := NewStats()
	b.TotalRequests = 2
	b.RecordAPIUsage(Event{Model: "m", InputTokens: 20, OutputTokens: 7})

	c := NewStats()
	c.TotalRequests = 3
	c.RecordAPIUsage(Event{Model: "other", InputTokens: 1, OutputTokens: 1})

	left := NewStats()
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	right := NewStats()
	bc := NewStats()
	bc.Merge(b)
	bc.Merge(c)
	right.Merge(a)
	right.Merge(bc)

	if left.TotalRequests != right.TotalRequests {
		t.Fatalf("associativity broken: left=%d right=%d", left.TotalRequests, right.TotalRequests)
	}
	if left.InputTokens != right.InputTokens {
		t.Fatalf("associativity broken on input tokens: left=%d right=%d", left.InputTokens, right.InputTokens)
	}
	if left.ByModel["m"].Calls != right.ByModel["m"].Calls {
		t.Fatalf("associativity broken on model calls")
	}
}

func TestMerge_Identity(t *testing.T) {
	a := NewStats()
	a.TotalRequests = 5
	a.RecordAPIUsage(Event{Model: "m", InputTokens: 10})

	merged := NewStats()
	merged.Merge(a)
	merged.Merge(NewStats())

	if merged.TotalRequests != a.TotalRequests {
		t.Fatalf("merge with default changed totals: got %d want %d", merged.TotalRequests, a.TotalRequests)
	}
}

func TestMerge_DoesNotAggregateDurations(t *testing.T) {
	a := NewStats()
	a.RecordToolResult(Event{ToolName: "Read", Duration: 100})
	b := NewStats()
	b.RecordToolResult(Event{ToolName: "Read", Duration: 200})

	a.Merge(b)

	if len(a.ByTool["Read"].Durations) != 1 {
		t.Fatalf("Merge must not aggregate duration lists, got %d entries", len(a.ByTool["Read"].Durations))
	}
}

func TestRing_WrapsAtCapacity(t *testing.T) {
	var r Ring
	for i := 0; i < historyCap+5; i++ {
		r.Push(float64(i))
	}
	values := r.Values()
	if len(values) != historyCap {
		t.Fatalf("expected %d values, got %d", historyCap, len(values))
	}
	if values[0] != 5 {
		t.Fatalf("expected oldest surviving sample to be 5, got %v", values[0])
	}
	if values[len(values)-1] != float64(historyCap+4) {
		t.Fatalf("expected newest sample to be %d, got %v", historyCap+4, values[len(values)-1])
	}
}
