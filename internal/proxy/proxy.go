package proxy

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aspyproxy/aspy/internal/contextwin"
	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/message"
	"github.com/aspyproxy/aspy/internal/parser"
	"github.com/aspyproxy/aspy/internal/pipeline"
	"github.com/aspyproxy/aspy/internal/session"
	"github.com/aspyproxy/aspy/internal/state"
	"github.com/aspyproxy/aspy/internal/transform"
)

// maxRequestBodyBytes caps how much of a client request body the proxy
// will buffer before forwarding, guarding against a runaway upload
// exhausting memory.
const maxRequestBodyBytes = 50 << 20

// Options configures a Server.
type Options struct {
	// Providers maps a route's providerKey to the upstream base URL.
	Providers map[string]string
	Parser    *parser.Parser
	State     *state.State
	Pipeline  *pipeline.Pipeline
	Transform *transform.Engine
	// Thresholds are the context-window percentage crossings that
	// trigger a warning injection.
	Thresholds []int
	Client     *http.Client
	Log        *slog.Logger
}

// Server is the observability proxy's HTTP handler: it forwards every
// request to the configured upstream provider, streaming the response
// back with byte-for-byte fidelity, while concurrently parsing a copy
// of the traffic into the event pipeline and applying the request-side
// transform/augmentation passes.
type Server struct {
	providers  map[string]string
	parser     *parser.Parser
	state      *state.State
	pipeline   *pipeline.Pipeline
	transform  *transform.Engine
	thresholds []int
	client     *http.Client
	log        *slog.Logger
}

// New constructs a Server from opts.
func New(opts Options) *Server {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DisableCompression:  true,
				ForceAttemptHTTP2:   true,
			},
			// No Timeout — streaming LLM responses can run for minutes.
		}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	thresholds := opts.Thresholds
	if thresholds == nil {
		thresholds = contextwin.DefaultThresholds
	}
	return &Server{
		providers:  opts.Providers,
		parser:     opts.Parser,
		state:      opts.State,
		pipeline:   opts.Pipeline,
		transform:  opts.Transform,
		thresholds: thresholds,
		client:     client,
		log:        log,
	}
}

// emit stamps ev and runs it through the pipeline. Every side effect —
// session/stats recording, credential redaction, storage, the live
// feed — happens inside registered processors; emit itself never talks
// to a sink directly.
func (s *Server) emit(userID, sessionID string, ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.pipeline.Run(events.Track(userID, sessionID, ev))
}

// ServeHTTP implements the proxy's per-request algorithm: parse the
// route, derive identity, apply request-side transforms, forward to
// upstream, and branch on the response's content type to stream or
// buffer it back while feeding the event pipeline.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := ParseRoute(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	upstreamBase, ok := s.providers[route.ProviderKey]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown provider %q", route.ProviderKey), http.StatusBadGateway)
		return
	}
	upstreamURL := strings.TrimSuffix(upstreamBase, "/") + route.APIPath
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	body, err := readLimitedBody(r.Body, maxRequestBodyBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	requestID := uuid.NewString()
	userID := s.deriveUserID(r)

	s.emit(userID, "", events.Event{
		Kind:      events.KindRequest,
		RequestID: requestID,
		Method:    r.Method,
		Path:      route.APIPath,
		BodySize:  len(body),
	})

	sess, _ := s.state.Sessions.ActiveByUser(userID)
	sessionID := ""
	ctxState := s.state.GlobalContext()
	turnNumber := 0
	if sess != nil {
		sessionID = sess.Key.String()
		ctxState = sess.Context
		turnNumber = int(sess.Stats.TotalRequests)
	}

	if isMessagesPost(r.Method, route) {
		body = s.applyRequestTransforms(body, route, userID, sessionID, turnNumber, r.Header.Get("X-Client-Id"))
		body = s.applyContextWarning(body, userID, sessionID, ctxState)
	}

	start := time.Now()
	resp, err := forwardRequest(s.client, upstreamURL, r, body)
	if err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "forwarding to upstream"})
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	ttfb := time.Since(start)

	copyResponseHeaders(w.Header(), resp.Header)
	s.emit(userID, sessionID, events.Event{Kind: events.KindHeadersCaptured, Headers: map[string][]string(resp.Header)})
	if rl, ok := extractRateLimit(resp.Header); ok {
		s.emit(userID, sessionID, rl)
	}

	w.WriteHeader(resp.StatusCode)

	isStream := resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
	if isStream {
		s.handleStreaming(w, resp, userID, sessionID, start, ttfb, ctxState)
		return
	}
	s.handleBuffered(w, resp, userID, sessionID, route.APIType, start, ttfb, ctxState)
}

// applyRequestTransforms runs the tag editor and system editor over
// body, in that order, emitting a RequestTransformed event per editor
// that actually changed something. It also runs the request-side
// tool_result parse pass so a streaming response's eagerly-registered
// tool calls are correlated before the request reaches upstream.
func (s *Server) applyRequestTransforms(body []byte, route RouteInfo, userID, sessionID string, turnNumber int, clientID string) []byte {
	results, err := s.parser.ParseRequest(body, route.APIType)
	if err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "parsing request body"})
	}
	for _, ev := range results {
		s.emit(userID, sessionID, ev)
	}
	toolResultCount := len(results)

	tagEditor := s.transform.TagEditor()
	if res, err := tagEditor.ApplyToBody(body, turnNumber, toolResultCount, clientID); err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "applying tag rules"})
	} else if len(res.Descriptions) > 0 {
		body = res.Body
		s.emit(userID, sessionID, events.Event{
			Kind:          events.KindRequestTransformed,
			Transformer:   "tag_editor",
			Modifications: res.Descriptions,
			TokensBefore:  res.TokensBefore,
			TokensAfter:   res.TokensAfter,
		})
	}

	sysEditor := s.transform.SystemEditor()
	if res, err := sysEditor.Apply(body, turnNumber, toolResultCount, clientID); err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "applying system rules"})
	} else if len(res.Descriptions) > 0 {
		body = res.Body
		s.emit(userID, sessionID, events.Event{
			Kind:          events.KindRequestTransformed,
			Transformer:   "system_editor",
			Modifications: res.Descriptions,
			TokensBefore:  res.TokensBefore,
			TokensAfter:   res.TokensAfter,
		})
	}

	if enhancer, enabled := s.transform.CompactEnhancer(); enabled {
		summary := s.sessionSummary(userID)
		if newBody, tokensInjected, changed, err := enhancer.Enhance(body, summary); err != nil {
			s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "enhancing compaction prompt"})
		} else if changed {
			body = newBody
			s.emit(userID, sessionID, transform.AugmenterEvent(tokensInjected))
		}
	}

	return body
}

// sessionSummary builds the compaction-prompt enhancer's injected
// section from the user's active session, if any.
func (s *Server) sessionSummary(userID string) transform.SessionContextSummary {
	sess, ok := s.state.Sessions.ActiveByUser(userID)
	if !ok {
		return transform.SessionContextSummary{}
	}
	snap := sess.Context.Snapshot()
	topTools := make([]string, 0, len(sess.Stats.ByTool))
	for name := range sess.Stats.ByTool {
		topTools = append(topTools, name)
	}
	sort.Slice(topTools, func(i, j int) bool {
		ci, cj := sess.Stats.ByTool[topTools[i]].Count, sess.Stats.ByTool[topTools[j]].Count
		if ci != cj {
			return ci > cj
		}
		return topTools[i] < topTools[j]
	})
	if len(topTools) > 3 {
		topTools = topTools[:3]
	}
	return transform.SessionContextSummary{
		CompactCount:  int(sess.Stats.Compacts),
		ContextTokens: snap.CurrentTokens,
		ContextLimit:  snap.Limit,
		TurnNumber:    int(sess.Stats.TotalRequests),
		TopTools:      topTools,
	}
}

// applyContextWarning injects a context-window threshold warning into
// body's system field, if ctxState has crossed a configured threshold
// it hasn't already warned for.
func (s *Server) applyContextWarning(body []byte, userID, sessionID string, ctxState *contextwin.State) []byte {
	threshold, ok := ctxState.NextUnwarnedThreshold(s.thresholds)
	if !ok {
		return body
	}
	snap := ctxState.Snapshot()
	warningText := contextwin.WarningText(threshold, snap.CurrentTokens, snap.Limit)
	newBody, injected, err := contextwin.InjectWarning(body, warningText)
	if err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "injecting context warning"})
		return body
	}
	ctxState.MarkWarned(threshold)
	s.emit(userID, sessionID, events.Event{Kind: events.KindResponseAugmented, Augmenter: "context_warning", TokensInjected: injected})
	return newBody
}

// deriveUserID extracts the client credential from the Anthropic
// x-api-key header or an OpenAI-style Bearer Authorization header and
// hashes it to a stable user ID. A request with neither is attributed
// to the UnknownUser sentinel. A request with a credential also
// backfills any active UnknownUser session to the derived ID.
func (s *Server) deriveUserID(r *http.Request) string {
	credential := r.Header.Get("X-Api-Key")
	if credential == "" {
		if auth := r.Header.Get("Authorization"); auth != "" {
			credential = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if credential == "" {
		return session.UnknownUser
	}
	userID := session.UserID(credential)
	s.state.Sessions.BackfillUserID(userID)
	return userID
}

// readLimitedBody reads at most limit+1 bytes from r, returning an
// error if the body exceeds limit.
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return body, nil
}

// rateLimitHeaders are Anthropic's standard rate-limit response headers.
const (
	hdrRequestsRemaining = "Anthropic-Ratelimit-Requests-Remaining"
	hdrRequestsLimit     = "Anthropic-Ratelimit-Requests-Limit"
	hdrTokensRemaining   = "Anthropic-Ratelimit-Tokens-Remaining"
	hdrTokensLimit       = "Anthropic-Ratelimit-Tokens-Limit"
	hdrTokensReset       = "Anthropic-Ratelimit-Tokens-Reset"
)

// extractRateLimit builds a RateLimitUpdate event from the upstream
// response's rate-limit headers, if present.
func extractRateLimit(h http.Header) (events.Event, bool) {
	remaining := h.Get(hdrRequestsRemaining)
	if remaining == "" {
		return events.Event{}, false
	}
	ev := events.Event{Kind: events.KindRateLimitUpdate}
	ev.RequestsRemaining, _ = strconv.Atoi(remaining)
	ev.RequestsLimit, _ = strconv.Atoi(h.Get(hdrRequestsLimit))
	ev.TokensRemaining, _ = strconv.Atoi(h.Get(hdrTokensRemaining))
	ev.TokensLimit, _ = strconv.Atoi(h.Get(hdrTokensLimit))
	if resetStr := h.Get(hdrTokensReset); resetStr != "" {
		if t, err := time.Parse(time.RFC3339, resetStr); err == nil {
			ev.ResetTime = t
		}
	}
	return ev, true
}

// handleBuffered copies a non-streamed upstream response to the client
// verbatim, then parses the same bytes for tool_use/usage events.
func (s *Server) handleBuffered(w http.ResponseWriter, resp *http.Response, userID, sessionID string, apiType message.APIType, start time.Time, ttfb time.Duration, ctxState *contextwin.State) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "reading upstream response"})
		return
	}
	if _, err := w.Write(body); err != nil {
		s.log.Warn("writing buffered response to client", "error", err)
	}

	evs, err := s.parser.ParseResponse(body, apiType)
	if err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "parsing response body"})
	}
	s.emitParsedResponseEvents(userID, sessionID, evs, ctxState)

	s.emit(userID, sessionID, events.Event{Kind: events.KindResponse, Status: resp.StatusCode, TTFB: ttfb, Duration: time.Since(start), BodySize: len(body)})
}

// streamChunkSize is small enough to keep the client's
// time-to-first-byte low, large enough that the eager line scan
// doesn't thrash on single-byte reads.
const streamChunkSize = 32 * 1024

// handleStreaming forwards the upstream SSE body to the client
// chunk-by-chunk as it arrives, without buffering the whole response
// before the client sees any of it. A copy of every chunk is
// accumulated for a post-stream full parse, and the eager per-line
// registrar runs inline so a tool_use block is pending before the
// client can possibly issue its tool_result.
func (s *Server) handleStreaming(w http.ResponseWriter, resp *http.Response, userID, sessionID string, start time.Time, ttfb time.Duration, ctxState *contextwin.State) {
	flusher, _ := w.(http.Flusher)

	var full bytes.Buffer
	var lineBuf bytes.Buffer
	thinkingActive := false

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			full.Write(chunk)
			if _, werr := w.Write(chunk); werr == nil {
				if flusher != nil {
					flusher.Flush()
				}
			}
			// A client disconnect (werr != nil above) must not stop
			// accumulation: the event record is independent of
			// whether the client is still listening.
			lineBuf.Write(chunk)
			for {
				line, ok := nextLine(&lineBuf)
				if !ok {
					break
				}
				data, isData := sseDataPayload(line)
				if !isData {
					continue
				}
				started, _ := s.parser.InspectLine([]byte(data))
				if started && !thinkingActive {
					thinkingActive = true
					s.emit(userID, sessionID, events.Event{Kind: events.KindThinkingStarted})
				}
			}
		}
		if readErr != nil {
			break
		}
	}

	evs, err := s.parser.ParseSSE(full.Bytes())
	if err != nil {
		s.emit(userID, sessionID, events.Event{Kind: events.KindError, Message: err.Error(), Context: "parsing SSE response"})
	}
	s.emitParsedResponseEvents(userID, sessionID, evs, ctxState)

	s.emit(userID, sessionID, events.Event{Kind: events.KindResponse, Status: resp.StatusCode, TTFB: ttfb, Duration: time.Since(start), BodySize: full.Len()})
}

// emitParsedResponseEvents emits every event a response parse pass
// produced, folding ApiUsage readings into ctxState and resetting its
// warned-threshold set on a detected compaction.
func (s *Server) emitParsedResponseEvents(userID, sessionID string, evs []events.Event, ctxState *contextwin.State) {
	for _, ev := range evs {
		s.emit(userID, sessionID, ev)
		switch ev.Kind {
		case events.KindAPIUsage:
			ctxState.Update(ev.InputTokens, ev.CacheReadTokens, ev.CacheCreationTokens)
		case events.KindContextCompact:
			ctxState.ResetWarnings()
		}
	}
}

// nextLine extracts one \n-terminated (CR optionally stripped) line
// from buf, advancing past it. Returns false if buf has no complete
// line yet.
func nextLine(buf *bytes.Buffer) (string, bool) {
	data := buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(data[:idx], "\r"))
	buf.Next(idx + 1)
	return line, true
}

// sseDataPayload extracts a "data:" line's payload. Anthropic's
// streaming wire format emits one JSON object per data line, so unlike
// the full parser's scanSSELines this never needs to join multi-line
// data blocks for the eager registrar's purposes.
func sseDataPayload(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}
