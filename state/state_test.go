package state

import "testing"

func TestNew_SeedsBaseKeys(t *testing.T) {
	s := New()

	if _, ok := s.Get(KeyInput); !ok {
		t.Error("expected input key to be present")
	}
	if _, ok := s.Get(KeyIntermediate); !ok {
		t.Error("expected intermediate key to be present")
	}
	if msgs := s.GetSlice(KeyMessages); msgs != nil {
		t.Errorf("expected messages to be typed []Message not []any, got %v", msgs)
	}
}

func TestState_Clone_Isolation(t *testing.T) {
	s := New()
	s.Set("count", 1)
	s.GetMap(KeyIntermediate)["x"] = "orig"

	clone := s.Clone()
	clone.GetMap(KeyIntermediate)["x"] = "mutated"

	if s.GetMap(KeyIntermediate)["x"] != "orig" {
		t.Error("mutating clone's intermediate map should not affect original")
	}
}

func TestReducerTable_Fold(t *testing.T) {
	t.Run("last-write-wins for output", func(t *testing.T) {
		table := BaseTable()
		s := New()
		table.Fold(s, Delta{KeyOutput: "first"})
		table.Fold(s, Delta{KeyOutput: "second"})

		if got := s.GetString(KeyOutput); got != "second" {
			t.Errorf("expected output = %q, got %q", "second", got)
		}
	})

	t.Run("shallow merge for intermediate", func(t *testing.T) {
		table := BaseTable()
		s := New()
		table.Fold(s, Delta{KeyIntermediate: map[string]any{"a": 1}})
		table.Fold(s, Delta{KeyIntermediate: map[string]any{"b": 2}})

		merged := s.GetMap(KeyIntermediate)
		if merged["a"] != 1 || merged["b"] != 2 {
			t.Errorf("expected merged intermediate to contain both keys, got %v", merged)
		}
	})

	t.Run("append for messages", func(t *testing.T) {
		table := BaseTable()
		s := New()
		table.Fold(s, Delta{KeyMessages: Message{Role: "user", Content: "hi"}})
		table.Fold(s, Delta{KeyMessages: []Message{{Role: "assistant", Content: "hello"}}})

		v, _ := s.Get(KeyMessages)
		msgs, _ := v.([]Message)
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Content != "hi" || msgs[1].Content != "hello" {
			t.Errorf("unexpected message order: %+v", msgs)
		}
	})

	t.Run("input is write-once", func(t *testing.T) {
		table := BaseTable()
		s := New()
		table.Fold(s, Delta{KeyInput: map[string]any{"q": "first"}})
		table.Fold(s, Delta{KeyInput: map[string]any{"q": "second"}})

		if got := s.GetMap(KeyInput)["q"]; got != "first" {
			t.Errorf("expected input to remain %q, got %q", "first", got)
		}
	})
}

func TestReducerTable_Commutative(t *testing.T) {
	table := BaseTable()

	cases := []struct {
		key  string
		want bool
	}{
		{KeyOutput, false},
		{KeyCurrentNode, false},
		{KeyError, false},
		{KeyInput, false},
		{KeyMessages, true},
		{KeyIntermediate, true},
		{KeyMetadata, true},
	}
	for _, c := range cases {
		if got := table.Commutative(c.key); got != c.want {
			t.Errorf("Commutative(%q) = %v, want %v", c.key, got, c.want)
		}
	}
}

func TestWithSchema_ExtraKeys(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"visited":  map[string]any{"type": "array"},
			"counters": map[string]any{"type": "object"},
			"attempts": map[string]any{"type": "integer"},
		},
	}
	table := WithSchema(BaseTable(), schema)

	s := New()
	table.Fold(s, Delta{"visited": []any{"a"}})
	table.Fold(s, Delta{"visited": []any{"b"}})
	if got := s.GetSlice("visited"); len(got) != 2 {
		t.Errorf("expected visited to accumulate, got %v", got)
	}

	if !table.Commutative("visited") {
		t.Error("expected array-typed extra key to be commutative")
	}
	if table.Commutative("attempts") {
		t.Error("expected scalar-typed extra key to be non-commutative")
	}

	table.Fold(s, Delta{"attempts": 1})
	table.Fold(s, Delta{"attempts": 2})
	v, _ := s.Get("attempts")
	if v != 2 {
		t.Errorf("expected attempts = 2, got %v", v)
	}
}

func TestWithSchema_BaseKeysNotOverridable(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			KeyOutput: map[string]any{"type": "array"},
		},
	}
	table := WithSchema(BaseTable(), schema)
	if table.Commutative(KeyOutput) {
		t.Error("schema must not override the reserved output key's reducer")
	}
}
