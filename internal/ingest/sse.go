package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/petrijr/flowstate/pkg/api"
)

// SSESource reads a text/event-stream over HTTP.
type SSESource struct {
	URL    string
	Flow   api.FlowID
	Sink   Sink
	Client *http.Client

	// OnDecodeError is told about envelopes that could not be decoded;
	// they are skipped. May be nil.
	OnDecodeError func(error)
}

var _ Source = (*SSESource)(nil)

// NewSSESource creates a source for flow reading from url. The client has
// no timeout; the stream lives as long as ctx.
func NewSSESource(url string, flow api.FlowID, sink Sink) *SSESource {
	return &SSESource{URL: url, Flow: flow, Sink: sink, Client: &http.Client{}}
}

func (s *SSESource) Run(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse: unexpected status %d", resp.StatusCode)
	}

	return ReadSSE(resp.Body, func(event, data string) error {
		ev, err := Decode(event, []byte(data))
		if err != nil {
			if s.OnDecodeError != nil {
				s.OnDecodeError(err)
			}
			return nil
		}
		return s.Sink.Enqueue(ctx, s.Flow, ev)
	})
}

// ReadSSE parses a server-sent event stream and calls fn for every
// dispatched event. Multi-line data fields are joined with "\n"; events
// without a name default to "message"; comments are ignored. An error from
// fn stops the read.
func ReadSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		event string
		data  []string
	)
	dispatch := func() error {
		if len(data) == 0 {
			event = ""
			return nil
		}
		name := event
		if name == "" {
			name = "message"
		}
		err := fn(name, strings.Join(data, "\n"))
		event, data = "", nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// A final event without a trailing blank line is still dispatched.
	return dispatch()
}
