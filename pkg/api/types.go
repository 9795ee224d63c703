package api

import (
	"fmt"
	"slices"
)

// FlowID identifies a saved workflow definition.
type FlowID string

// DefaultFlow is the FlowID of the unsaved/default session.
const DefaultFlow FlowID = ""

// NodeID identifies a node within a flow graph.
type NodeID string

// Key addresses one node of one flow.
type Key struct {
	Flow FlowID
	Node NodeID
}

func (k Key) String() string {
	flow := string(k.Flow)
	if flow == "" {
		flow = "_"
	}
	return fmt.Sprintf("%s/%s", flow, k.Node)
}

// Status represents the execution state of a single node.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusInProgress, StatusCompleted, StatusError:
		return true
	}
	return false
}

// MessageEntry is one line of a node's progress history.
type MessageEntry struct {
	Status    Status `json:"status"`
	Ticker    string `json:"ticker,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NodeState is the execution state of a node as seen by readers.
//
// LastUpdated is in unix milliseconds and never decreases for a given key.
type NodeState struct {
	Status      Status         `json:"status"`
	Ticker      *string        `json:"ticker"`
	Message     string         `json:"message"`
	LastUpdated int64          `json:"last_updated"`
	Messages    []MessageEntry `json:"messages,omitempty"`
}

// IdleState returns the state reported for nodes that never received an update.
func IdleState() NodeState {
	return NodeState{Status: StatusIdle}
}

// Clone returns a deep copy of s.
func (s NodeState) Clone() NodeState {
	out := s
	if s.Ticker != nil {
		t := *s.Ticker
		out.Ticker = &t
	}
	if s.Messages != nil {
		out.Messages = slices.Clone(s.Messages)
	}
	return out
}

// Equal reports whether two states carry the same values.
func (s NodeState) Equal(o NodeState) bool {
	return s.Status == o.Status &&
		s.Message == o.Message &&
		s.LastUpdated == o.LastUpdated &&
		stringPtrEqual(s.Ticker, o.Ticker) &&
		slices.Equal(s.Messages, o.Messages)
}

// Delta is a partial NodeState update. Nil fields leave the stored value
// unchanged.
type Delta struct {
	Status    *Status
	Ticker    *string
	Message   *string
	Timestamp int64
}

// Provider names the vendor behind a Model.
type Provider string

const (
	ProviderAnthropic Provider = "Anthropic"
	ProviderDeepSeek  Provider = "DeepSeek"
	ProviderGoogle    Provider = "Google"
	ProviderGroq      Provider = "Groq"
	ProviderOpenAI    Provider = "OpenAI"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderDeepSeek, ProviderGoogle, ProviderGroq, ProviderOpenAI:
		return true
	}
	return false
}

// Model is one selectable entry of the model catalog.
type Model struct {
	DisplayName string   `json:"display_name"`
	ModelName   string   `json:"model_name"`
	Provider    Provider `json:"provider"`
}

// ModelsEqual compares two optional models by value.
func ModelsEqual(a, b *Model) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NodeView is a node's execution state merged with its model override.
// A nil Override means the flow's global default model applies.
type NodeView struct {
	Flow     FlowID    `json:"flow_id"`
	Node     NodeID    `json:"node_id"`
	State    NodeState `json:"state"`
	Override *Model    `json:"model_override"`
}

// Key returns the address of the viewed node.
func (v NodeView) Key() Key {
	return Key{Flow: v.Flow, Node: v.Node}
}

// ProgressEvent is a raw progress message emitted by the execution backend.
// Timestamp is in unix milliseconds; when absent the receiver assigns one.
type ProgressEvent struct {
	Agent     string  `json:"agent"`
	Ticker    *string `json:"ticker,omitempty"`
	Status    string  `json:"status"`
	Message   *string `json:"message,omitempty"`
	Timestamp *int64  `json:"timestamp,omitempty"`
}

// Update is a normalized ProgressEvent addressed to one node.
type Update struct {
	Key   Key
	Delta Delta
}

// RunOutput is the flow-level result of the latest run.
type RunOutput struct {
	Data        []byte `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
	CompletedAt int64  `json:"completed_at"`
}

// PartitionState is the lifecycle state of a flow partition.
type PartitionState int

const (
	PartitionUnreferenced PartitionState = iota
	PartitionActive
	PartitionDestroyed
)

func (s PartitionState) String() string {
	switch s {
	case PartitionUnreferenced:
		return "UNREFERENCED"
	case PartitionActive:
		return "ACTIVE"
	case PartitionDestroyed:
		return "DESTROYED"
	}
	return fmt.Sprintf("PartitionState(%d)", int(s))
}

// Ptr returns a pointer to v. It keeps Delta and ProgressEvent literals short.
func Ptr[T any](v T) *T {
	return &v
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
