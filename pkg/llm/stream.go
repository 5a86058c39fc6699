package llm

import (
	"bufio"
	"io"
	"net/http"
	"strings"
)

// eventStream reads a text/event-stream response and decodes each data
// payload into a Chunk. Keepalive events and empty deltas are skipped; the
// "[DONE]" sentinel ends the stream with io.EOF.
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	decode  func([]byte) (Chunk, error)
}

func newEventStream(resp *http.Response, decode func([]byte) (Chunk, error)) Stream {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &eventStream{body: resp.Body, scanner: scanner, decode: decode}
}

func (s *eventStream) Close() error { return s.body.Close() }

func (s *eventStream) Recv() (Chunk, error) {
	for {
		payload, err := s.nextEvent()
		if err != nil {
			return Chunk{}, err
		}
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode([]byte(payload))
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		return chunk, nil
	}
}

// nextEvent joins the data lines of the next event. A blank line ends an
// event; multiple data lines in one event join with newlines per the SSE
// spec.
func (s *eventStream) nextEvent() (string, error) {
	var data []string
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimSpace(rest))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if len(data) > 0 {
		return strings.Join(data, "\n"), nil
	}
	return "", io.EOF
}
