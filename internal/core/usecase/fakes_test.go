package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

type memMessages struct {
	mu    sync.Mutex
	items []domain.Message

	// pendingCountHook, when set, overrides one CountPendingWindow call.
	pendingCountHook func(streamID string, from, to time.Time) (int, bool)
}

func (m *memMessages) add(msgs ...domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, msgs...)
}

func (m *memMessages) StreamsWithPending(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, msg := range m.items {
		if msg.Status != domain.MessageStatusPending {
			continue
		}
		if _, ok := seen[msg.StreamID]; ok {
			continue
		}
		seen[msg.StreamID] = struct{}{}
		out = append(out, msg.StreamID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memMessages) EarliestPendingSince(_ context.Context, streamID string, since time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest time.Time
	found := false
	for _, msg := range m.items {
		if msg.StreamID != streamID || msg.Status != domain.MessageStatusPending || msg.Timestamp.Before(since) {
			continue
		}
		if !found || msg.Timestamp.Before(earliest) {
			earliest = msg.Timestamp
			found = true
		}
	}
	return earliest, found, nil
}

func (m *memMessages) EarliestMessageTime(_ context.Context, streamID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest time.Time
	found := false
	for _, msg := range m.items {
		if msg.StreamID != streamID {
			continue
		}
		if !found || msg.Timestamp.Before(earliest) {
			earliest = msg.Timestamp
			found = true
		}
	}
	return earliest, found, nil
}

func (m *memMessages) ListPendingWindow(_ context.Context, streamID string, from, to time.Time, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, msg := range m.items {
		if msg.StreamID != streamID || msg.Status != domain.MessageStatusPending {
			continue
		}
		if msg.Timestamp.Before(from) || !msg.Timestamp.Before(to) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) CountPendingWindow(ctx context.Context, streamID string, from, to time.Time) (int, error) {
	if m.pendingCountHook != nil {
		if count, ok := m.pendingCountHook(streamID, from, to); ok {
			return count, nil
		}
	}
	msgs, err := m.ListPendingWindow(ctx, streamID, from, to, 0)
	return len(msgs), err
}

func (m *memMessages) ListContext(_ context.Context, streamID string, from, to time.Time, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, msg := range m.items {
		if msg.StreamID != streamID {
			continue
		}
		if msg.Timestamp.Before(from) || !msg.Timestamp.Before(to) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) MarkCompleted(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		for _, id := range ids {
			if m.items[i].ID == id {
				m.items[i].Status = domain.MessageStatusCompleted
			}
		}
	}
	return nil
}

func (m *memMessages) statusOf(id string) domain.MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.items {
		if msg.ID == id {
			return msg.Status
		}
	}
	return ""
}

type memWatermarks struct {
	mu      sync.Mutex
	items   map[string]domain.ProcessingWatermark
	history map[string][]time.Time
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{
		items:   make(map[string]domain.ProcessingWatermark),
		history: make(map[string][]time.Time),
	}
}

func (w *memWatermarks) Ensure(_ context.Context, streamID string, initial time.Time) (domain.ProcessingWatermark, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wm, ok := w.items[streamID]; ok {
		return wm, nil
	}
	wm := domain.ProcessingWatermark{StreamID: streamID, WatermarkTime: initial}
	w.items[streamID] = wm
	return wm, nil
}

func (w *memWatermarks) Advance(_ context.Context, streamID string, to time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	wm := w.items[streamID]
	// Monotonic: never move backwards.
	if to.After(wm.WatermarkTime) {
		wm.WatermarkTime = to
	}
	wm.StreamID = streamID
	w.items[streamID] = wm
	w.history[streamID] = append(w.history[streamID], wm.WatermarkTime)
	return nil
}

func (w *memWatermarks) current(streamID string) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.items[streamID].WatermarkTime
}

type memResults struct {
	mu       sync.Mutex
	commits  []ports.ThreadCommit
	failOnce map[string]error
	purged   [][]string
	pending  int
}

func newMemResults() *memResults {
	return &memResults{failOnce: make(map[string]error)}
}

func (r *memResults) StoreThreadResults(_ context.Context, commit ports.ThreadCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversationID := commit.RagContext.ConversationID
	if err, ok := r.failOnce[conversationID]; ok {
		delete(r.failOnce, conversationID)
		return err
	}
	r.commits = append(r.commits, commit)
	return nil
}

func (r *memResults) DeleteClassifications(_ context.Context, messageIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, messageIDs)
	return nil
}

func (r *memResults) CountPendingProposals(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending, nil
}

func (r *memResults) ListProposals(_ context.Context, _ string, _ int) ([]domain.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Proposal, 0)
	for _, commit := range r.commits {
		out = append(out, commit.Proposals...)
	}
	return out, nil
}

func (r *memResults) commitFor(conversationID string) (ports.ThreadCommit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, commit := range r.commits {
		if commit.RagContext.ConversationID == conversationID {
			return commit, true
		}
	}
	return ports.ThreadCommit{}, false
}

// llmStub serves canned JSON per purpose, consuming responses in order and
// repeating the last one.
type llmStub struct {
	mu        sync.Mutex
	responses map[string][]string
	block     chan struct{}
	entered   chan struct{}
}

func (s *llmStub) RequestJSON(ctx context.Context, _ domain.RenderedPrompt, _ string, purpose string) (domain.LLMResponse, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return domain.LLMResponse{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.responses[purpose]
	if len(queue) == 0 {
		return domain.LLMResponse{Data: []byte(`{}`)}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		s.responses[purpose] = queue[1:]
	}
	return domain.LLMResponse{Data: []byte(next), TokensUsed: 10}, nil
}

type promptStub struct{}

func (promptStub) Render(templateID string, _ map[string]any) (domain.RenderedPrompt, error) {
	return domain.RenderedPrompt{System: "s", User: templateID}, nil
}

type ragStub struct {
	mu      sync.Mutex
	docs    []domain.RetrievedDoc
	queries []string
}

func (s *ragStub) SearchSimilarDocs(_ context.Context, query string, _ int) ([]domain.RetrievedDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.docs, nil
}

func (s *ragStub) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}
