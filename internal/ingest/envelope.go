// Package ingest reads execution streams from the backend and hands the
// decoded envelopes to a Sink, normally a worker queue.
//
// Two transports carry the same envelopes. Server-sent events name the
// envelope type in the "event" field and put its payload in "data":
//
//	event: progress
//	data: {"agent":"market_analyst","ticker":"AAPL","status":"IN_PROGRESS"}
//
// WebSocket text messages wrap both in one JSON object:
//
//	{"type":"progress","data":{"agent":"market_analyst","status":"DONE"}}
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/petrijr/flowstate/pkg/api"
)

// DefaultReconnectDelay is the pause between stream connections.
const DefaultReconnectDelay = 2 * time.Second

// ErrUnknownEnvelope is returned for envelope types other than start,
// progress, complete and error.
var ErrUnknownEnvelope = errors.New("unknown envelope type")

// Sink accepts decoded stream events. *worker.Worker implements it.
type Sink interface {
	Enqueue(ctx context.Context, flow api.FlowID, ev api.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, flow api.FlowID, ev api.StreamEvent) error

func (f SinkFunc) Enqueue(ctx context.Context, flow api.FlowID, ev api.StreamEvent) error {
	return f(ctx, flow, ev)
}

// Source is a connection to one flow's execution stream. Run blocks until
// the stream ends, fails or ctx is cancelled.
type Source interface {
	Run(ctx context.Context) error
}

// Decode builds a StreamEvent from an envelope type and its JSON payload.
func Decode(typ string, payload []byte) (api.StreamEvent, error) {
	payload = bytes.TrimSpace(payload)

	switch api.StreamEventType(typ) {
	case api.StreamStart:
		return api.StreamEvent{Type: api.StreamStart}, nil

	case api.StreamProgress:
		var p api.ProgressEvent
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return api.StreamEvent{}, fmt.Errorf("decode progress: %w", err)
		}
		return api.StreamEvent{Type: api.StreamProgress, Progress: p}, nil

	case api.StreamComplete:
		return api.StreamEvent{Type: api.StreamComplete, Data: bytes.Clone(payload)}, nil

	case api.StreamError:
		var e struct {
			Message string `json:"message"`
		}
		if len(payload) > 0 && payload[0] == '{' {
			if err := sonic.Unmarshal(payload, &e); err != nil {
				return api.StreamEvent{}, fmt.Errorf("decode error: %w", err)
			}
		} else {
			e.Message = string(payload)
		}
		return api.StreamEvent{Type: api.StreamError, Error: e.Message}, nil

	default:
		return api.StreamEvent{}, fmt.Errorf("%w: %q", ErrUnknownEnvelope, typ)
	}
}

// Reconnect runs src until ctx is cancelled, waiting delay between
// connections. Every failed or ended connection is passed to onError,
// which may be nil.
func Reconnect(ctx context.Context, src Source, delay time.Duration, onError func(error)) error {
	for {
		err := src.Run(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if onError != nil {
			if err == nil {
				err = errors.New("stream ended")
			}
			onError(err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
