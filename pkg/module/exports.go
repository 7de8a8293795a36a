package module

import (
	"github.com/chazu/neuron/pkg/metrics"
	"github.com/chazu/neuron/pkg/moduleid"
)

// ExportsOf returns the exports of inst, running its factory on first access.
// The instance is marked loaded before the factory runs; a cyclic require that
// reaches inst again gets the exports container as it is at that moment.
// If the factory then replaces Instance.Exports, the two callers see
// different values. That divergence is long-standing behavior and is kept.
func (m *Manager) ExportsOf(inst *Instance) (any, error) {
	if inst.Loaded {
		return inst.Exports, nil
	}
	if !inst.Defined() {
		metrics.RecordExports("undefined")
		return nil, notFound(inst.ID)
	}

	inst.Loaded = true
	exports := Exports{}
	inst.Exports = exports

	filename := m.locator.ModuleURL(inst.ID)
	dirname := moduleid.Dir(filename)

	m.log.V(1).Info("initializing module", "id", inst.ID, "guid", inst.GUID, "graph", inst.Graph.ID)
	if err := inst.Factory(m.newRequire(inst), exports, inst, filename, dirname); err != nil {
		metrics.RecordExports("failure")
		return inst.Exports, &InitializerError{ID: inst.ID, Err: err}
	}
	metrics.RecordExports("success")
	return inst.Exports, nil
}
