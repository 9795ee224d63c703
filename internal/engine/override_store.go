package engine

import (
	"github.com/petrijr/flowstate/pkg/api"
)

// setOverride stores model as the override of node in p, or removes it when
// model is nil. It reports whether the stored override changed.
func (p *partition) setOverride(node api.NodeID, model *api.Model) bool {
	var prior *api.Model
	if m, ok := p.overrides[node]; ok {
		prior = &m
	}
	if api.ModelsEqual(prior, model) {
		return false
	}
	if model == nil {
		delete(p.overrides, node)
	} else {
		p.overrides[node] = *model
	}
	return true
}

func (p *partition) override(node api.NodeID) *api.Model {
	m, ok := p.overrides[node]
	if !ok {
		return nil
	}
	return &m
}

// effectiveModel returns override if set, otherwise global. The result is a
// copy.
func effectiveModel(override, global *api.Model) *api.Model {
	src := override
	if src == nil {
		src = global
	}
	if src == nil {
		return nil
	}
	m := *src
	return &m
}
