package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/petrijr/flowstate/pkg/api"
)

// WebSocketSource reads envelopes from a WebSocket connection.
type WebSocketSource struct {
	URL  string
	Flow api.FlowID
	Sink Sink

	// ReadLimit caps a single message. Zero keeps the library default.
	ReadLimit int64

	OnDecodeError func(error)
}

var _ Source = (*WebSocketSource)(nil)

// NewWebSocketSource creates a source for flow reading from url.
func NewWebSocketSource(url string, flow api.FlowID, sink Sink) *WebSocketSource {
	return &WebSocketSource{URL: url, Flow: flow, Sink: sink, ReadLimit: 1 << 20}
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *WebSocketSource) Run(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.CloseNow()
	if s.ReadLimit > 0 {
		conn.SetReadLimit(s.ReadLimit)
	}

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, err := DecodeEnvelope(msg)
		if err != nil {
			if s.OnDecodeError != nil {
				s.OnDecodeError(err)
			}
			continue
		}
		if err := s.Sink.Enqueue(ctx, s.Flow, ev); err != nil {
			conn.Close(websocket.StatusGoingAway, "sink closed")
			return err
		}
	}
}

// DecodeEnvelope decodes a {"type","data"} JSON envelope.
func DecodeEnvelope(msg []byte) (api.StreamEvent, error) {
	var env wsEnvelope
	if err := sonic.Unmarshal(msg, &env); err != nil {
		return api.StreamEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return api.StreamEvent{}, errors.New("decode envelope: missing type")
	}
	return Decode(env.Type, env.Data)
}
