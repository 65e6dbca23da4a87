package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stupiduntilnot/cortexchat/internal/completion"
	"github.com/stupiduntilnot/cortexchat/internal/db"
	"github.com/stupiduntilnot/cortexchat/internal/dummy"
	"github.com/stupiduntilnot/cortexchat/internal/model"
	"github.com/stupiduntilnot/cortexchat/internal/prompt"
	"github.com/stupiduntilnot/cortexchat/internal/store"
)

const greeting = "Hello! How can I help?"

func testStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.OpenSQLite(t.TempDir() + "/chat.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.InitSchema(database, db.DialectSQLite, "conversations"); err != nil {
		t.Fatal(err)
	}
	s, err := store.New(database, "conversations", nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testSession(t *testing.T, st MessageStore, script string) (*Session, *dummy.Provider) {
	t.Helper()
	provider, err := dummy.NewProvider(script)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(st, completion.New(provider, completion.Options{}), Options{
		Greeting: greeting,
		Builder:  prompt.NewBuilder("sys", nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, provider
}

// failingStore rejects every append but serves reads.
type failingStore struct {
	MessageStore
	appends int
}

func (f *failingStore) Append(context.Context, string, model.Role, string) error {
	f.appends++
	return errors.New("warehouse suspended")
}

func TestNew_FreshState(t *testing.T) {
	s, _ := testSession(t, testStore(t), "ok")
	if s.State() != StateFresh || s.Greeted() || len(s.Messages()) != 0 {
		t.Fatalf("unexpected initial state=%s greeted=%v messages=%v", s.State(), s.Greeted(), s.Messages())
	}
	if s.ID() == "" {
		t.Fatal("expected a conversation id")
	}
	if s.Model() != model.MistralLarge {
		t.Fatalf("expected default model, got %s", s.Model())
	}
}

func TestNew_RejectsUnknownModel(t *testing.T) {
	_, err := New(testStore(t), nil, Options{Model: "gpt-x"})
	if !errors.Is(err, model.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestGreet_OncePerConversation(t *testing.T) {
	st := testStore(t)
	s, _ := testSession(t, st, "ok")
	ctx := context.Background()

	msg, ok := s.Greet(ctx)
	if !ok || msg.Content != greeting || msg.Role != model.RoleAssistant {
		t.Fatalf("unexpected greeting: %+v ok=%v", msg, ok)
	}
	if _, ok := s.Greet(ctx); ok {
		t.Fatal("second greet must be a no-op")
	}
	if s.State() != StateGreeted {
		t.Fatalf("expected greeted state, got %s", s.State())
	}

	stored, err := st.Load(ctx, s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Content != greeting {
		t.Fatalf("expected greeting persisted once, got %+v", stored)
	}
}

func TestSubmit_FullExchange(t *testing.T) {
	st := testStore(t)
	s, provider := testSession(t, st, "msg:  4  ")
	ctx := context.Background()
	s.Greet(ctx)

	turn, err := s.Submit(ctx, "2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Assistant.Content != "4" || !turn.Persisted {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if s.State() != StateActive {
		t.Fatalf("expected active state, got %s", s.State())
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one completion call, got %d", len(calls))
	}
	p := calls[0].Prompt
	if strings.Count(p, "sys") != 1 || strings.Count(p, "2+2?") != 1 {
		t.Fatalf("prompt must hold instruction and input once:\n%s", p)
	}
	if !strings.Contains(p, "Assistant: "+greeting+"\n") {
		t.Fatalf("prompt must include the greeting as history:\n%s", p)
	}
	if strings.Contains(p, "User: 2+2?") {
		t.Fatalf("prompt must be built from history before the new input:\n%s", p)
	}
	if calls[0].Model != model.MistralLarge {
		t.Fatalf("unexpected model: %s", calls[0].Model)
	}

	want := []model.Message{
		{Role: model.RoleAssistant, Content: greeting},
		{Role: model.RoleUser, Content: "2+2?"},
		{Role: model.RoleAssistant, Content: "4"},
	}
	for name, got := range map[string][]model.Message{"memory": s.Messages(), "store": mustLoad(t, st, s.ID())} {
		if len(got) != len(want) {
			t.Fatalf("%s: expected %d messages, got %+v", name, len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s message %d: expected %+v, got %+v", name, i, want[i], got[i])
			}
		}
	}
}

func mustLoad(t *testing.T, st *store.Store, id string) []model.Message {
	t.Helper()
	msgs, err := st.Load(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestSubmit_BlankInputIsNoop(t *testing.T) {
	s, provider := testSession(t, testStore(t), "ok")
	ctx := context.Background()
	s.Greet(ctx)

	for _, in := range []string{"", "   ", "\n\t"} {
		turn, err := s.Submit(ctx, in)
		if err != nil {
			t.Fatalf("blank input %q: %v", in, err)
		}
		if turn != (Turn{}) {
			t.Fatalf("expected zero turn for %q, got %+v", in, turn)
		}
	}
	if len(provider.Calls()) != 0 || len(s.Messages()) != 1 {
		t.Fatalf("blank input must not touch history or backend")
	}
}

func TestSubmit_TrimsInput(t *testing.T) {
	st := testStore(t)
	s, provider := testSession(t, st, "ok")
	ctx := context.Background()
	s.Greet(ctx)

	turn, err := s.Submit(ctx, "  \t what time is it? \n")
	if err != nil {
		t.Fatal(err)
	}
	if turn.User.Content != "what time is it?" {
		t.Fatalf("expected trimmed user turn, got %q", turn.User.Content)
	}
	if p := provider.Calls()[0].Prompt; !strings.Contains(p, "New question:\nwhat time is it?\n\nAnswer:") {
		t.Fatalf("prompt must carry the trimmed input:\n%s", p)
	}
	stored := mustLoad(t, st, s.ID())
	if len(stored) != 3 || stored[1].Content != "what time is it?" {
		t.Fatalf("expected trimmed input persisted, got %+v", stored)
	}
}

func TestSubmit_RequiresGreeting(t *testing.T) {
	s, _ := testSession(t, testStore(t), "ok")
	if _, err := s.Submit(context.Background(), "hi"); !errors.Is(err, ErrNotGreeted) {
		t.Fatalf("expected ErrNotGreeted, got %v", err)
	}
}

func TestSubmit_CompletionFailureKeepsUserTurn(t *testing.T) {
	st := testStore(t)
	s, _ := testSession(t, st, "err:provider_api,msg:recovered")
	ctx := context.Background()
	s.Greet(ctx)

	turn, err := s.Submit(ctx, "hello?")
	if !errors.Is(err, ErrAssistantUnavailable) {
		t.Fatalf("expected ErrAssistantUnavailable, got %v", err)
	}
	if turn.User.Content != "hello?" || turn.Assistant != (model.Message{}) {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].Role != model.RoleUser {
		t.Fatalf("user turn must remain in memory: %+v", msgs)
	}
	if stored := mustLoad(t, st, s.ID()); len(stored) != 2 {
		t.Fatalf("no assistant turn may be persisted on failure: %+v", stored)
	}

	// The conversation continues after the failure.
	turn, err = s.Submit(ctx, "again")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Assistant.Content != "recovered" || len(s.Messages()) != 4 {
		t.Fatalf("expected recovery, got %+v / %+v", turn, s.Messages())
	}
}

func TestSubmit_StoreFailureKeepsInMemoryTurns(t *testing.T) {
	fs := &failingStore{MessageStore: testStore(t)}
	s, _ := testSession(t, fs, "msg:fine")
	ctx := context.Background()
	s.Greet(ctx)

	turn, err := s.Submit(ctx, "hi")
	if err != nil {
		t.Fatalf("store failures must not fail the turn: %v", err)
	}
	if turn.Persisted {
		t.Fatal("expected Persisted=false")
	}
	if fs.appends != 3 {
		t.Fatalf("expected greeting, user and assistant appends attempted, got %d", fs.appends)
	}
	if len(s.Messages()) != 3 {
		t.Fatalf("expected all turns kept in memory, got %+v", s.Messages())
	}
}

func TestLoad_ReplacesHistory(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.Append(ctx, "c1", model.RoleUser, "Hi")
	st.Append(ctx, "c1", model.RoleAssistant, "Hello")

	s, provider := testSession(t, st, "msg:sure")
	s.Greet(ctx)
	if err := s.Load(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if s.ID() != "c1" || !s.Greeted() || s.State() != StateLoaded {
		t.Fatalf("unexpected state after load: id=%s greeted=%v state=%s", s.ID(), s.Greeted(), s.State())
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Content != "Hi" || msgs[1].Content != "Hello" {
		t.Fatalf("unexpected loaded history: %+v", msgs)
	}

	// Loaded conversations are never re-greeted.
	if _, ok := s.Greet(ctx); ok {
		t.Fatal("loaded conversation must not be greeted again")
	}

	if _, err := s.Submit(ctx, "more"); err != nil {
		t.Fatal(err)
	}
	p := provider.Calls()[0].Prompt
	if !strings.Contains(p, "User: Hi\nAssistant: Hello\n") {
		t.Fatalf("prompt must replay loaded history:\n%s", p)
	}
	if stored := mustLoad(t, st, "c1"); len(stored) != 4 {
		t.Fatalf("expected turns appended to loaded conversation, got %+v", stored)
	}
}

func TestLoad_UnknownIsEmpty(t *testing.T) {
	s, _ := testSession(t, testStore(t), "ok")
	if err := s.Load(context.Background(), "unknown"); err != nil {
		t.Fatal(err)
	}
	if len(s.Messages()) != 0 || !s.Greeted() {
		t.Fatalf("expected empty greeted session, got %+v", s.Messages())
	}
	if err := s.Load(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank id")
	}
}

func TestNewChat_ResetsAndIssuesDistinctIDs(t *testing.T) {
	s, _ := testSession(t, testStore(t), "ok")
	ctx := context.Background()
	s.Greet(ctx)
	s.Submit(ctx, "hi")

	seen := map[string]bool{s.ID(): true}
	for i := 0; i < 100; i++ {
		id := s.NewChat()
		if seen[id] {
			t.Fatalf("identifier reused: %s", id)
		}
		seen[id] = true
	}
	if s.State() != StateFresh || s.Greeted() || len(s.Messages()) != 0 {
		t.Fatalf("expected fresh session after NewChat")
	}
}

func TestSetModel(t *testing.T) {
	s, provider := testSession(t, testStore(t), "ok")
	if err := s.SetModel("nope"); !errors.Is(err, model.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if err := s.SetModel(model.Mixtral8x7B); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s.Greet(ctx)
	s.Submit(ctx, "hi")
	if provider.Calls()[0].Model != model.Mixtral8x7B {
		t.Fatalf("expected switched model, got %s", provider.Calls()[0].Model)
	}
}

func TestConversationIDs_Delegates(t *testing.T) {
	st := testStore(t)
	s, _ := testSession(t, st, "ok")
	ctx := context.Background()

	ids, err := s.ConversationIDs(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", ids, err)
	}
	s.Greet(ctx)
	ids, err = s.ConversationIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != s.ID() {
		t.Fatalf("expected [%s], got %v", s.ID(), ids)
	}
}
