package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogEmitter_TextMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	e.Emit(Event{ExecutionID: "exec1", Step: 1, NodeID: "draft", Msg: MsgNodeStart})
	if !strings.Contains(buf.String(), "[node_start] execution=exec1 step=1 node=draft") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestLogEmitter_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)
	e.Emit(Event{ExecutionID: "exec1", Msg: MsgExecutionComplete, Meta: map[string]any{"output": "done"}})
	if !strings.Contains(buf.String(), `"msg":"execution_complete"`) {
		t.Errorf("expected msg field in JSON output, got %q", buf.String())
	}
}

func TestBufferedEmitter_HistoryIsScopedByExecution(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{ExecutionID: "a", Msg: MsgNodeStart})
	b.Emit(Event{ExecutionID: "b", Msg: MsgNodeStart})
	b.Emit(Event{ExecutionID: "a", Msg: MsgNodeComplete})

	if got := b.History("a"); len(got) != 2 {
		t.Fatalf("expected 2 events for execution a, got %d", len(got))
	}
	if got := b.History("b"); len(got) != 1 {
		t.Fatalf("expected 1 event for execution b, got %d", len(got))
	}

	b.Clear("a")
	if got := b.History("a"); len(got) != 0 {
		t.Errorf("expected history cleared, got %d events", len(got))
	}
}

func TestSSEEmitter_SubscriberOnlySeesEventsAfterSubscribing(t *testing.T) {
	s := NewSSEEmitter()
	s.Emit(Event{ExecutionID: "exec1", Msg: MsgNodeStart})

	ch, unsubscribe := s.Subscribe("exec1")
	defer unsubscribe()

	s.Emit(Event{ExecutionID: "exec1", Msg: MsgNodeComplete})

	select {
	case ev := <-ch:
		if ev.Msg != MsgNodeComplete {
			t.Errorf("expected node_complete, got %q", ev.Msg)
		}
	default:
		t.Fatal("expected an event on the subscriber channel")
	}
}

func TestSSEEmitter_UnsubscribeClosesChannel(t *testing.T) {
	s := NewSSEEmitter()
	ch, unsubscribe := s.Subscribe("exec1")
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestEncodeEvent_FramesAsServerSentEvent(t *testing.T) {
	out := string(EncodeEvent(Event{ExecutionID: "exec1", Msg: MsgNodeStart, NodeID: "draft"}))
	if !strings.HasPrefix(out, "event: node_start\n") {
		t.Errorf("expected event: line first, got %q", out)
	}
	if !strings.Contains(out, `"node_id":"draft"`) {
		t.Errorf("expected node_id in data payload, got %q", out)
	}
}

func TestMulti_FansOutToEveryEmitter(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	m := Multi(NewLogEmitter(&buf1, false), NewLogEmitter(&buf2, false))
	m.Emit(Event{ExecutionID: "exec1", Msg: MsgNodeStart})
	if buf1.Len() == 0 || buf2.Len() == 0 {
		t.Error("expected both emitters to receive the event")
	}
	if err := m.EmitBatch(context.Background(), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
