package session

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndLoad(t *testing.T) {
	store := newTestStore(t)

	turns := []Turn{
		{Role: "user", Content: "what's the gas price?"},
		{Role: "assistant", ToolCalls: []ToolCallRecord{
			{ID: "call_1", Name: "evm__gas_price", Arguments: `{"chain":"monad"}`},
		}},
		{Role: "tool", Content: "52 gwei", ToolCallID: "call_1", ToolName: "evm__gas_price"},
		{Role: "assistant", Content: "Gas is currently 52 gwei."},
	}
	for _, turn := range turns {
		if err := store.AppendTurn("s1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	loaded, err := store.LoadHistory("s1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(loaded) != len(turns) {
		t.Fatalf("expected %d turns, got %d", len(turns), len(loaded))
	}

	if loaded[0].Role != "user" || loaded[0].Content != "what's the gas price?" {
		t.Errorf("turn 0: %+v", loaded[0])
	}
	if len(loaded[1].ToolCalls) != 1 {
		t.Fatalf("tool calls not round-tripped: %+v", loaded[1])
	}
	call := loaded[1].ToolCalls[0]
	if call.ID != "call_1" || call.Name != "evm__gas_price" || call.Arguments != `{"chain":"monad"}` {
		t.Errorf("unexpected tool call record: %+v", call)
	}
	if loaded[2].ToolCallID != "call_1" || loaded[2].ToolName != "evm__gas_price" {
		t.Errorf("tool linkage lost: %+v", loaded[2])
	}
	if loaded[3].CreatedAt.IsZero() {
		t.Error("created_at not defaulted")
	}
}

func TestLoadHistoryEmpty(t *testing.T) {
	store := newTestStore(t)

	turns, err := store.LoadHistory("missing")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if turns == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(turns) != 0 {
		t.Fatalf("expected 0 turns, got %d", len(turns))
	}
}

func TestSessionsIsolated(t *testing.T) {
	store := newTestStore(t)

	if err := store.AppendTurn("a", Turn{Role: "user", Content: "one"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := store.AppendTurn("b", Turn{Role: "user", Content: "two"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := store.LoadHistory("a")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "one" {
		t.Errorf("session a sees foreign turns: %+v", turns)
	}
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().UTC().Add(-time.Hour)
	if err := store.AppendTurn("older", Turn{Role: "user", Content: "hi", CreatedAt: old}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.AppendTurn("newer", Turn{Role: "user", Content: "hi"}); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	infos, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].SessionID != "newer" || infos[0].TurnCount != 2 {
		t.Errorf("expected newer first: %+v", infos)
	}
	if infos[1].SessionID != "older" || infos[1].TurnCount != 1 {
		t.Errorf("unexpected second entry: %+v", infos)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)

	if err := store.AppendTurn("s1", Turn{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := store.Clear("s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	turns, err := store.LoadHistory("s1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("session not cleared: %+v", turns)
	}

	if err := store.Clear("never-existed"); err != nil {
		t.Errorf("Clear of unknown session errored: %v", err)
	}
}
