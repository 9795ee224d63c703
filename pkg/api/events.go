package api

// StreamEventType identifies an envelope on a flow's execution stream.
type StreamEventType string

const (
	// StreamStart announces a new run; node states are reset to IDLE.
	StreamStart StreamEventType = "start"
	// StreamProgress carries a ProgressEvent for one agent.
	StreamProgress StreamEventType = "progress"
	// StreamComplete carries the final output of the run.
	StreamComplete StreamEventType = "complete"
	// StreamError carries a run-level error message.
	StreamError StreamEventType = "error"
)

// StreamEvent is one decoded envelope of an execution stream, already scoped
// to a flow by the channel it arrived on.
type StreamEvent struct {
	Type StreamEventType

	// Progress is set for StreamProgress.
	Progress ProgressEvent

	// Data is the raw JSON body for StreamComplete.
	Data []byte

	// Error is the message for StreamError.
	Error string
}
