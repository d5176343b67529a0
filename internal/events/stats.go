package events

import "time"

// historyCap is the sparkline ring-buffer capacity.
const historyCap = 30

// Ring is a fixed-capacity append-only ring buffer used for the four
// sparkline trend histories on Stats. Unlike the session event ring
// (internal/session), this one stores plain float64 samples.
type Ring struct {
	buf   [historyCap]float64
	len   int
	next  int
}

// Push appends a sample, evicting the oldest once the ring is full.
func (r *Ring) Push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % historyCap
	if r.len < historyCap {
		r.len++
	}
}

// Values returns the samples oldest-first.
func (r *Ring) Values() []float64 {
	out := make([]float64, r.len)
	start := r.next - r.len
	if start < 0 {
		start += historyCap
	}
	for i := 0; i < r.len; i++ {
		out[i] = r.buf[(start+i)%historyCap]
	}
	return out
}

// ModelUsage is the per-model token/cost accumulator.
type ModelUsage struct {
	InputTokens         uint64
	OutputTokens        uint64
	CacheCreationTokens uint64
	CacheReadTokens     uint64
	Calls               uint64
}

// ToolUsage is the per-tool call accumulator. Durations are kept as a
// raw slice and are explicitly NOT merged across Stats — timing
// samples are not aggregable the way counts are, so merge only folds
// the Count.
type ToolUsage struct {
	Count     uint64
	Durations []time.Duration
}

// Stats is the additive aggregate tracked globally and per-session.
// All totals/tables are merge-commutative and merge-associative
// except for ToolUsage.Durations.
type Stats struct {
	TotalRequests   uint64
	TotalToolCalls  uint64
	InputTokens     uint64
	OutputTokens    uint64
	CacheCreation   uint64
	CacheRead       uint64
	ThinkingBlocks  uint64
	Compacts        uint64
	Turns           uint64

	ByModel map[string]*ModelUsage
	ByTool  map[string]*ToolUsage

	TokenHistory        Ring
	ToolCallHistory      Ring
	CacheRateHistory     Ring
	ThinkingTokenHistory Ring
}

// NewStats returns a zero-value Stats with initialized maps.
func NewStats() *Stats {
	return &Stats{
		ByModel: make(map[string]*ModelUsage),
		ByTool:  make(map[string]*ToolUsage),
	}
}

// Merge folds other into s field-by-field. Merge is associative and
// commutative for every counter and table field. ByTool[*].Durations
// and the four history Rings are left untouched on s and never copied
// from other — they are point-in-time sample lists, not running totals.
func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	s.TotalRequests += other.TotalRequests
	s.TotalToolCalls += other.TotalToolCalls
	s.InputTokens += other.InputTokens
	s.OutputTokens += other.OutputTokens
	s.CacheCreation += other.CacheCreation
	s.CacheRead += other.CacheRead
	s.ThinkingBlocks += other.ThinkingBlocks
	s.Compacts += other.Compacts
	s.Turns += other.Turns

	if s.ByModel == nil {
		s.ByModel = make(map[string]*ModelUsage)
	}
	for model, mu := range other.ByModel {
		cur, ok := s.ByModel[model]
		if !ok {
			cur = &ModelUsage{}
			s.ByModel[model] = cur
		}
		cur.InputTokens += mu.InputTokens
		cur.OutputTokens += mu.OutputTokens
		cur.CacheCreationTokens += mu.CacheCreationTokens
		cur.CacheReadTokens += mu.CacheReadTokens
		cur.Calls += mu.Calls
	}

	if s.ByTool == nil {
		s.ByTool = make(map[string]*ToolUsage)
	}
	for tool, tu := range other.ByTool {
		cur, ok := s.ByTool[tool]
		if !ok {
			cur = &ToolUsage{}
			s.ByTool[tool] = cur
		}
		cur.Count += tu.Count
	}
}

// RecordAPIUsage folds a single ApiUsage event into the totals, the
// per-model table, and the token-history sparkline.
func (s *Stats) RecordAPIUsage(e Event) {
	s.InputTokens += uint64(e.InputTokens)
	s.OutputTokens += uint64(e.OutputTokens)
	s.CacheCreation += uint64(e.CacheCreationTokens)
	s.CacheRead += uint64(e.CacheReadTokens)

	if s.ByModel == nil {
		s.ByModel = make(map[string]*ModelUsage)
	}
	mu, ok := s.ByModel[e.Model]
	if !ok {
		mu = &ModelUsage{}
		s.ByModel[e.Model] = mu
	}
	mu.InputTokens += uint64(e.InputTokens)
	mu.OutputTokens += uint64(e.OutputTokens)
	mu.CacheCreationTokens += uint64(e.CacheCreationTokens)
	mu.CacheReadTokens += uint64(e.CacheReadTokens)
	mu.Calls++

	s.TokenHistory.Push(float64(e.InputTokens + e.OutputTokens))
	total := e.CacheCreationTokens + e.CacheReadTokens
	if e.InputTokens+total > 0 {
		s.CacheRateHistory.Push(float64(total) / float64(e.InputTokens+total))
	}
}

// RecordToolCall folds a ToolCall event into the per-tool table and
// the tool-call sparkline.
func (s *Stats) RecordToolCall(e Event) {
	s.TotalToolCalls++
	if s.ByTool == nil {
		s.ByTool = make(map[string]*ToolUsage)
	}
	tu, ok := s.ByTool[e.ToolName]
	if !ok {
		tu = &ToolUsage{}
		s.ByTool[e.ToolName] = tu
	}
	tu.Count++
	s.ToolCallHistory.Push(float64(s.TotalToolCalls))
}

// RecordToolResult appends the observed duration to the named tool's
// duration list — these are explicitly excluded from Merge.
func (s *Stats) RecordToolResult(e Event) {
	if s.ByTool == nil {
		s.ByTool = make(map[string]*ToolUsage)
	}
	tu, ok := s.ByTool[e.ToolName]
	if !ok {
		tu = &ToolUsage{}
		s.ByTool[e.ToolName] = tu
	}
	tu.Durations = append(tu.Durations, e.Duration)
}

// RecordThinking folds a Thinking event into the totals and the
// thinking-token sparkline.
func (s *Stats) RecordThinking(e Event) {
	s.ThinkingBlocks++
	s.ThinkingTokenHistory.Push(float64(e.TokenEstimate))
}

// RecordCompact increments the compaction counter.
func (s *Stats) RecordCompact() {
	s.Compacts++
}

// RecordTurn increments the conversation-turn counter, one per user
// prompt observed.
func (s *Stats) RecordTurn() {
	s.Turns++
}

// Apply routes e to the Record* method matching its Kind. Both
// session.Session.RecordEvent and the global aggregate in
// internal/state call it, so the two share one dispatch.
func (s *Stats) Apply(e Event) {
	if e.Kind == KindRequest {
		s.TotalRequests++
	}
	switch e.Kind {
	case KindAPIUsage:
		s.RecordAPIUsage(e)
	case KindToolCall:
		s.RecordToolCall(e)
	case KindToolResult:
		s.RecordToolResult(e)
	case KindThinking:
		s.RecordThinking(e)
	case KindContextCompact:
		s.RecordCompact()
	case KindUserPrompt:
		s.RecordTurn()
	}
}
