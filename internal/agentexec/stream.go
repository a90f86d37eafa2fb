package agentexec

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

// combinedStream merges decoded stdout events with stderr lines, which
// surface as error events so viewers see diagnostics inline.
type combinedStream struct {
	events chan schema.AgentEvent
	errMu  sync.Mutex
	err    error
	wg     sync.WaitGroup
	log    pslog.Logger
}

func newCombinedStream(stdout, stderr io.Reader, logger pslog.Logger) *combinedStream {
	stream := &combinedStream{
		events: make(chan schema.AgentEvent, 256),
		log:    logger,
	}
	stream.wg.Add(2)
	go stream.readJSON(stdout)
	go stream.readStderr(stderr)
	go func() {
		stream.wg.Wait()
		close(stream.events)
	}()
	return stream
}

func (s *combinedStream) readJSON(reader io.Reader) {
	defer s.wg.Done()
	jsonStream := newJSONLStream(reader)
	for {
		event, err := jsonStream.Next(context.Background())
		if err != nil {
			var decodeErr *jsonlDecodeError
			if errors.As(err, &decodeErr) {
				line := strings.TrimSpace(string(decodeErr.Line()))
				if line != "" {
					if s.log != nil {
						s.log.Warn("agent jsonl decode failed", "preview", previewText(line, 200), "err", err)
					}
					s.events <- schema.AgentEvent{Type: schema.AgentEventError, Message: line}
					continue
				}
			}
			if !errors.Is(err, io.EOF) {
				if s.log != nil {
					s.log.Warn("agent jsonl stream error", "err", err)
				}
				s.setErr(err)
			}
			return
		}
		s.events <- event
	}
}

func (s *combinedStream) readStderr(reader io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if s.log != nil {
			s.log.Trace("agent stderr", "preview", previewText(text, 200))
		}
		s.events <- schema.AgentEvent{Type: schema.AgentEventError, Message: text}
	}
	if err := scanner.Err(); err != nil {
		if s.log != nil {
			s.log.Warn("agent stderr read failed", "err", err)
		}
		s.setErr(err)
	}
}

func (s *combinedStream) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *combinedStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	select {
	case <-ctx.Done():
		return schema.AgentEvent{}, ctx.Err()
	case event, ok := <-s.events:
		if ok {
			return event, nil
		}
		s.errMu.Lock()
		err := s.err
		s.errMu.Unlock()
		if err != nil {
			return schema.AgentEvent{}, err
		}
		return schema.AgentEvent{}, io.EOF
	}
}

func (s *combinedStream) Close() error {
	return nil
}

func previewText(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
