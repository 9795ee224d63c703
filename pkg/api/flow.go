package api

import "time"

// Flow is a saved workflow graph as stored by the flow storage service.
type Flow struct {
	ID          FlowID     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Nodes       []FlowNode `json:"nodes"`
	Edges       []FlowEdge `json:"edges"`
	Viewport    Viewport   `json:"viewport"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FlowNode is a node of a flow graph. Agent is the backend agent key whose
// progress events target this node; control nodes leave it empty.
type FlowNode struct {
	ID    NodeID `json:"id"`
	Type  string `json:"type"`
	Agent string `json:"agent,omitempty"`
	Name  string `json:"name,omitempty"`
}

// FlowEdge connects two nodes.
type FlowEdge struct {
	ID     string `json:"id"`
	Source NodeID `json:"source"`
	Target NodeID `json:"target"`
}

// Viewport is the canvas position saved with a flow.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}
