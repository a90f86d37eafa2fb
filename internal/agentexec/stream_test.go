package agentexec

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"pkt.systems/steward/schema"
)

func TestJSONLStreamDecodesEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"turn.started"}`,
		``,
		`{"type":"turn.delta","id":"d1","delta":"hello"}`,
		`{"type":"turn.completed"}`,
	}, "\n") + "\n"
	stream := newJSONLStream(strings.NewReader(input))
	ctx := context.Background()

	first, err := stream.Next(ctx)
	if err != nil || first.Type != schema.AgentEventStarted {
		t.Fatalf("first event: %+v err=%v", first, err)
	}
	second, err := stream.Next(ctx)
	if err != nil || second.Type != schema.AgentEventDelta || second.Delta != "hello" {
		t.Fatalf("second event: %+v err=%v", second, err)
	}
	if len(second.Raw) == 0 {
		t.Fatalf("raw line should be preserved")
	}
	third, err := stream.Next(ctx)
	if err != nil || third.Type != schema.AgentEventCompleted {
		t.Fatalf("third event: %+v err=%v", third, err)
	}
	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestJSONLStreamReportsDecodeError(t *testing.T) {
	stream := newJSONLStream(strings.NewReader("not json\n"))
	_, err := stream.Next(context.Background())
	var decodeErr *jsonlDecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if string(decodeErr.Line()) != "not json" {
		t.Fatalf("unexpected offending line %q", decodeErr.Line())
	}
}

func TestCombinedStreamMergesStderr(t *testing.T) {
	stdout := strings.NewReader(`{"type":"turn.delta","delta":"a"}` + "\n")
	stderr := strings.NewReader("warning: slow\n")
	stream := newCombinedStream(stdout, stderr, nil)
	ctx := context.Background()

	sawDelta := false
	sawStderr := false
	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		switch event.Type {
		case schema.AgentEventDelta:
			sawDelta = true
		case schema.AgentEventError:
			if event.Message == "warning: slow" {
				sawStderr = true
			}
		}
	}
	if !sawDelta || !sawStderr {
		t.Fatalf("missing events: delta=%v stderr=%v", sawDelta, sawStderr)
	}
}

func TestCombinedStreamSurfacesBadLinesAsErrors(t *testing.T) {
	stdout := strings.NewReader("garbage line\n" + `{"type":"turn.completed"}` + "\n")
	stream := newCombinedStream(stdout, strings.NewReader(""), nil)
	ctx := context.Background()

	first, err := stream.Next(ctx)
	if err != nil || first.Type != schema.AgentEventError || first.Message != "garbage line" {
		t.Fatalf("unexpected first event %+v err=%v", first, err)
	}
	second, err := stream.Next(ctx)
	if err != nil || second.Type != schema.AgentEventCompleted {
		t.Fatalf("unexpected second event %+v err=%v", second, err)
	}
}
