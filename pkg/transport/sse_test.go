package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadEvents(t *testing.T) {
	stream := ": keepalive\n" +
		"id: 1\n" +
		"event: status\n" +
		"data: {\"state\":\"working\"}\n" +
		"\n" +
		"data: line one\n" +
		"data: line two\n" +
		"\n" +
		"data: tail"

	var got []Event
	err := ReadEvents(context.Background(), strings.NewReader(stream), func(e Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].ID != "1" || got[0].Name != "status" || got[0].Data != `{"state":"working"}` {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Data != "line one\nline two" {
		t.Errorf("event 1 data = %q", got[1].Data)
	}
	if got[1].Name != "" {
		t.Errorf("event 1 name = %q, want empty", got[1].Name)
	}
	if got[2].Data != "tail" {
		t.Errorf("event 2 data = %q, want tail", got[2].Data)
	}
}

func TestReadEventsSkipsEmptyBlocks(t *testing.T) {
	var n int
	err := ReadEvents(context.Background(), strings.NewReader("event: ping\n\n\n\n"), func(Event) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0", n)
	}
}

func TestReadEventsStopEarly(t *testing.T) {
	var n int
	err := ReadEvents(context.Background(), strings.NewReader("data: a\n\ndata: b\n\n"), func(Event) error {
		n++
		return io.EOF
	})
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("dispatched = %d, want 1", n)
	}
}

func TestReadEventsPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := ReadEvents(context.Background(), strings.NewReader("data: a\n\n"), func(Event) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestReadEventsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadEvents(ctx, strings.NewReader("data: a\n\n"), func(Event) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
