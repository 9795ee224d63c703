package engine

import (
	"github.com/petrijr/flowstate/pkg/api"
)

// DefaultHistoryLimit bounds the per-node message history.
const DefaultHistoryLimit = 50

// merge applies d to stored using last-writer-wins by timestamp.
//
// A delta older than stored.LastUpdated is stale and leaves stored as is
// (applied is false). A delta with an equal timestamp is applied. Nil fields
// of d keep their stored value. A delta that carries a message appends a
// history entry unless it repeats the newest one; the history keeps at most
// limit entries.
func merge(stored api.NodeState, d api.Delta, limit int) (next api.NodeState, applied bool) {
	if d.Timestamp < stored.LastUpdated {
		return stored, false
	}

	next = stored.Clone()
	if d.Status != nil {
		next.Status = *d.Status
	}
	if d.Ticker != nil {
		t := *d.Ticker
		next.Ticker = &t
	}
	if d.Message != nil {
		next.Message = *d.Message
	}
	next.LastUpdated = d.Timestamp

	if d.Message != nil {
		entry := api.MessageEntry{
			Status:    next.Status,
			Message:   next.Message,
			Timestamp: d.Timestamp,
		}
		if next.Ticker != nil {
			entry.Ticker = *next.Ticker
		}
		next.Messages = appendHistory(next.Messages, entry, limit)
	}
	return next, true
}

func appendHistory(history []api.MessageEntry, entry api.MessageEntry, limit int) []api.MessageEntry {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Status == entry.Status && last.Ticker == entry.Ticker && last.Message == entry.Message {
			return history
		}
	}
	history = append(history, entry)
	if limit > 0 && len(history) > limit {
		history = append([]api.MessageEntry(nil), history[len(history)-limit:]...)
	}
	return history
}

// resetState returns the idle state a node takes when a new run starts.
// LastUpdated is kept, so events older than the previous run stay stale
// while any newer event of the next run applies.
func resetState(stored api.NodeState) api.NodeState {
	return api.NodeState{
		Status:      api.StatusIdle,
		LastUpdated: stored.LastUpdated,
	}
}
