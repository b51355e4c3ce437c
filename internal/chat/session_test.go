package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/lacheln1/unoa-server/internal/domain"
	"github.com/lacheln1/unoa-server/internal/llm"
)

// fakeSender records every event the session emits.
type fakeSender struct {
	events  []ServerEvent
	sendErr error
}

func (f *fakeSender) Send(_ context.Context, event ServerEvent) error {
	f.events = append(f.events, event)
	return f.sendErr
}

func (f *fakeSender) ofType(eventType string) []ServerEvent {
	var matched []ServerEvent
	for _, e := range f.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

// fakeStore is an in-memory conversation store.
type fakeStore struct {
	histories map[string][]domain.Message
	appendErr error
	resetErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{histories: map[string][]domain.Message{}}
}

func (f *fakeStore) AppendExchange(_ context.Context, sessionID string, _ domain.AccessInfo, userMsg, assistantMsg domain.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.histories[sessionID] = append(f.histories[sessionID], userMsg, assistantMsg)
	return nil
}

func (f *fakeStore) LoadHistory(_ context.Context, sessionID string) ([]domain.Message, error) {
	history := f.histories[sessionID]
	if history == nil {
		return []domain.Message{}, nil
	}
	return history, nil
}

func (f *fakeStore) GetConversation(_ context.Context, sessionID string) (*domain.Conversation, error) {
	history, ok := f.histories[sessionID]
	if !ok {
		return nil, nil
	}
	return &domain.Conversation{SessionID: sessionID, Messages: history}, nil
}

func (f *fakeStore) ResetConversation(_ context.Context, sessionID string) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	delete(f.histories, sessionID)
	return nil
}

func (f *fakeStore) CountConversations(context.Context) (int64, error) {
	return int64(len(f.histories)), nil
}

func (f *fakeStore) CountActiveSince(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeCatalog serves a fixed plan set.
type fakeCatalog struct {
	plans []*domain.Plan
}

func (f *fakeCatalog) AllPlans(context.Context) ([]*domain.Plan, error) {
	return f.plans, nil
}

func (f *fakeCatalog) PlanTitles(context.Context) ([]string, error) {
	titles := make([]string, 0, len(f.plans))
	for _, p := range f.plans {
		titles = append(titles, p.Title)
	}
	return titles, nil
}

func (f *fakeCatalog) PlansByTitles(_ context.Context, titles []string) ([]*domain.Plan, error) {
	var matched []*domain.Plan
	for _, t := range titles {
		for _, p := range f.plans {
			if p.Title == t {
				matched = append(matched, p)
			}
		}
	}
	return matched, nil
}

func (f *fakeCatalog) RandomPlan(context.Context, []string) (*domain.Plan, error) {
	if len(f.plans) == 0 {
		return nil, nil
	}
	return f.plans[0], nil
}

func (f *fakeCatalog) AllBenefits(context.Context) ([]*domain.Benefit, error) {
	return nil, nil
}

// fakeGenerator replays canned fragments or fails.
type fakeGenerator struct {
	fragments []string
	complete  string
	err       error
	lastCtx   []llm.Message
}

func (f *fakeGenerator) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.lastCtx = messages
	if f.err != nil {
		return "", f.err
	}
	return f.complete, nil
}

func (f *fakeGenerator) Stream(_ context.Context, messages []llm.Message) iter.Seq2[string, error] {
	f.lastCtx = messages
	return func(yield func(string, error) bool) {
		if f.err != nil {
			yield("", f.err)
			return
		}
		for _, fragment := range f.fragments {
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{plans: []*domain.Plan{
		{Title: "5G Standard", Price: 75000},
		{Title: "5G Standard Plus", Price: 85000},
		{Title: "LTE Basic", Price: 33000},
	}}
}

func newTestSession(store *fakeStore, catalog *fakeCatalog, gen *fakeGenerator, sender *fakeSender) *Session {
	access := domain.AccessInfo{IP: "203.0.113.7", UserAgent: "Chrome/126"}
	return NewSession("ip_testsession0001", access, store, catalog, gen, sender)
}

func initSession(t *testing.T, sess *Session) {
	t.Helper()
	sess.HandleEvent(context.Background(), ClientEvent{Type: EventInitSession})
	if sess.State() != StateInitialized {
		t.Fatalf("Expected Initialized state after init, got %v", sess.State())
	}
}

func TestInitSessionReplaysEmptyHistory(t *testing.T) {
	sender := &fakeSender{}
	sess := newTestSession(newFakeStore(), testCatalog(), &fakeGenerator{}, sender)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventInitSession})

	histories := sender.ofType(EventConversationHistory)
	if len(histories) != 1 {
		t.Fatalf("Expected one conversation-history event, got %d", len(histories))
	}
	messages, ok := histories[0].Payload.([]domain.Message)
	if !ok {
		t.Fatalf("Expected []domain.Message payload, got %T", histories[0].Payload)
	}
	if len(messages) != 0 {
		t.Errorf("Expected empty history, got %d messages", len(messages))
	}
}

func TestUserMessageBeforeInitRejected(t *testing.T) {
	sender := &fakeSender{}
	sess := newTestSession(newFakeStore(), testCatalog(), &fakeGenerator{fragments: []string{"hi"}}, sender)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "hello"})

	if len(sender.ofType(EventError)) != 1 {
		t.Errorf("Expected error event for message before init, got events %+v", sender.events)
	}
	if sess.State() != StateConnected {
		t.Errorf("Expected session to stay Connected, got %v", sess.State())
	}
}

func TestStreamOrdering(t *testing.T) {
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"Hel", "lo, ", "world"}}
	sess := newTestSession(newFakeStore(), testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "greet me"})

	chunks := sender.ofType(EventStreamChunk)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunk events, got %d", len(chunks))
	}
	for i, want := range []string{"Hel", "lo, ", "world"} {
		if chunks[i].Payload != want {
			t.Errorf("Chunk %d: expected %q, got %v", i, want, chunks[i].Payload)
		}
	}

	ends := sender.ofType(EventStreamEnd)
	if len(ends) != 1 {
		t.Fatalf("Expected one stream-end event, got %d", len(ends))
	}
	end, ok := ends[0].Payload.(StreamEnd)
	if !ok {
		t.Fatalf("Expected StreamEnd payload, got %T", ends[0].Payload)
	}
	if end.Message.Content != "Hello, world" {
		t.Errorf("Expected accumulated content %q, got %q", "Hello, world", end.Message.Content)
	}

	// start must precede every chunk, end must come last
	if sender.events[len(sender.events)-1].Type != EventStreamEnd {
		t.Errorf("Expected stream-end as final event, got %q", sender.events[len(sender.events)-1].Type)
	}
	starts := sender.ofType(EventStreamStart)
	if len(starts) != 1 {
		t.Fatalf("Expected one stream-start event, got %d", len(starts))
	}
	start, ok := starts[0].Payload.(StreamStart)
	if !ok || start.MessageID == "" || start.Timestamp == "" {
		t.Errorf("Expected populated stream-start payload, got %+v", starts[0].Payload)
	}
}

func TestConversationalExchangePersisted(t *testing.T) {
	repo := newFakeStore()
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"고객님께는 **5G Standard Plus** 추천드려요!"}}
	sess := newTestSession(repo, testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "추천해줘"})

	history := repo.histories[sess.SessionID()]
	if len(history) != 2 {
		t.Fatalf("Expected persisted exchange of 2 messages, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser || history[1].Role != domain.RoleAssistant {
		t.Errorf("Expected user then assistant persisted, got %q/%q", history[0].Role, history[1].Role)
	}
	if len(history[1].RecommendedPlans) != 1 || history[1].RecommendedPlans[0].Title != "5G Standard Plus" {
		t.Errorf("Expected recommendation summary persisted, got %+v", history[1].RecommendedPlans)
	}
}

func TestStreamEndCarriesResolvedPlans(t *testing.T) {
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"**5G Standard Plus** 어떠세요?"}}
	sess := newTestSession(newFakeStore(), testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "추천"})

	ends := sender.ofType(EventStreamEnd)
	if len(ends) != 1 {
		t.Fatalf("Expected one stream-end event, got %d", len(ends))
	}
	end := ends[0].Payload.(StreamEnd)
	if len(end.RecommendedPlans) != 1 || end.RecommendedPlans[0].Title != "5G Standard Plus" {
		t.Errorf("Expected longest title resolved, got %+v", end.RecommendedPlans)
	}
}

func TestStreamEndNullPlansWhenNoMatch(t *testing.T) {
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"조금 더 알려주시면 찾아드릴게요!"}}
	sess := newTestSession(newFakeStore(), testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "음"})

	end := sender.ofType(EventStreamEnd)[0].Payload.(StreamEnd)
	if end.RecommendedPlans != nil {
		t.Errorf("Expected nil recommendedPlans when nothing matched, got %+v", end.RecommendedPlans)
	}
}

func TestSimpleModeSkipsPersistence(t *testing.T) {
	repo := newFakeStore()
	sender := &fakeSender{}
	gen := &fakeGenerator{complete: "**5G Standard** 하나면 충분해요!"}
	sess := newTestSession(repo, testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "간단 추천", Mode: ModeSimple})

	history, err := repo.LoadHistory(context.Background(), sess.SessionID())
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected no persisted entries after simple mode, got %d", len(history))
	}

	// Extraction still runs against single-shot output.
	ends := sender.ofType(EventStreamEnd)
	if len(ends) != 1 {
		t.Fatalf("Expected stream-end in simple mode, got %d", len(ends))
	}
	end := ends[0].Payload.(StreamEnd)
	if len(end.RecommendedPlans) != 1 || end.RecommendedPlans[0].Title != "5G Standard" {
		t.Errorf("Expected recommendation in simple mode, got %+v", end.RecommendedPlans)
	}
	if len(sender.ofType(EventStreamChunk)) != 0 {
		t.Errorf("Expected no chunk events in simple mode")
	}
}

func TestSimpleModeAnswersFilterCatalog(t *testing.T) {
	sender := &fakeSender{}
	gen := &fakeGenerator{complete: "추천드려요!"}
	sess := newTestSession(newFakeStore(), testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{
		Type:    EventUserMessage,
		Text:    "추천",
		Mode:    ModeSimple,
		Answers: map[string]string{"현제 요금제 요금": "2~4만 원"},
	})

	if len(gen.lastCtx) == 0 || gen.lastCtx[0].Role != domain.RoleSystem {
		t.Fatalf("Expected system prompt first, got %+v", gen.lastCtx)
	}
	system := gen.lastCtx[0].Content
	if !strings.Contains(system, "LTE Basic") {
		t.Error("Expected the in-budget plan in the simple-mode prompt")
	}
	if strings.Contains(system, "5G Standard") {
		t.Error("Expected over-budget plans filtered from the simple-mode prompt")
	}
}

func TestUnknownModeDefaultsToConversational(t *testing.T) {
	repo := newFakeStore()
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"답변"}}
	sess := newTestSession(repo, testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "hi", Mode: "typo-mode"})

	if len(repo.histories[sess.SessionID()]) != 2 {
		t.Errorf("Expected unknown mode to persist like the default path")
	}
}

func TestBackendFailureEmitsGenericError(t *testing.T) {
	sender := &fakeSender{}
	gen := &fakeGenerator{err: errors.New("rate limited: key abc123 exhausted")}
	sess := newTestSession(newFakeStore(), testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "hi"})

	errs := sender.ofType(EventError)
	if len(errs) != 1 {
		t.Fatalf("Expected one error event, got %d", len(errs))
	}
	payload := errs[0].Payload.(ErrorPayload)
	if payload.Message != genericErrorMessage {
		t.Errorf("Expected generic user-safe message, got %q", payload.Message)
	}
	if len(sender.ofType(EventStreamEnd)) != 0 {
		t.Errorf("Expected no stream-end after backend failure")
	}

	// The session stays usable for the next message.
	gen.err = nil
	gen.fragments = []string{"ok"}
	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "retry"})
	if len(sender.ofType(EventStreamEnd)) != 1 {
		t.Errorf("Expected session to recover after error")
	}
}

func TestPersistenceFailureStillSendsTerminalEvent(t *testing.T) {
	repo := newFakeStore()
	repo.appendErr = errors.New("disk full")
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"답변이에요"}}
	sess := newTestSession(repo, testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "hi"})

	if len(sender.ofType(EventStreamEnd)) != 1 {
		t.Errorf("Expected stream-end despite persistence failure")
	}
	if len(sender.ofType(EventError)) != 0 {
		t.Errorf("Expected no client-visible error for persistence failure")
	}
}

func TestResetClearsConversation(t *testing.T) {
	repo := newFakeStore()
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"답변"}}
	sess := newTestSession(repo, testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "hi"})
	if len(repo.histories[sess.SessionID()]) == 0 {
		t.Fatal("Expected an exchange before reset")
	}

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventResetConversation})

	if len(repo.histories[sess.SessionID()]) != 0 {
		t.Errorf("Expected conversation deleted after reset")
	}
	histories := sender.ofType(EventConversationHistory)
	last := histories[len(histories)-1]
	if messages, ok := last.Payload.([]domain.Message); !ok || len(messages) != 0 {
		t.Errorf("Expected empty history replay after reset, got %+v", last.Payload)
	}
}

func TestHistoryFilteredToModelRoles(t *testing.T) {
	sender := &fakeSender{}
	gen := &fakeGenerator{fragments: []string{"ok"}}
	sess := newTestSession(newFakeStore(), testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{
		Type: EventUserMessage,
		Text: "hi",
		History: []domain.Message{
			{Role: "card", Content: "ui card payload"},
			{Role: domain.RoleUser, Content: "previous question"},
			{Role: domain.RoleAssistant, Content: "previous answer"},
		},
	})

	// system + 2 history turns + new user message
	if len(gen.lastCtx) != 4 {
		t.Fatalf("Expected 4 context messages, got %d", len(gen.lastCtx))
	}
	if gen.lastCtx[0].Role != domain.RoleSystem {
		t.Errorf("Expected system prompt first, got %q", gen.lastCtx[0].Role)
	}
	for _, msg := range gen.lastCtx {
		if msg.Role == "card" {
			t.Error("Expected card entries filtered from generation context")
		}
	}
	if gen.lastCtx[3].Content != "hi" {
		t.Errorf("Expected new user text last, got %q", gen.lastCtx[3].Content)
	}
}

func TestSendFailureDoesNotAbortExchange(t *testing.T) {
	repo := newFakeStore()
	sender := &fakeSender{sendErr: errors.New("connection gone")}
	gen := &fakeGenerator{fragments: []string{"답변"}}
	sess := newTestSession(repo, testCatalog(), gen, sender)
	initSession(t, sess)

	sess.HandleEvent(context.Background(), ClientEvent{Type: EventUserMessage, Text: "hi"})

	// Persistence completed even though every send failed.
	if len(repo.histories[sess.SessionID()]) != 2 {
		t.Errorf("Expected exchange persisted despite send failures")
	}
}
