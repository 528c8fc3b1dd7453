package strategy

import (
	"github.com/helix-lab/tradewind/internal/broker"
	"github.com/helix-lab/tradewind/internal/calendar"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/data"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Vars is the serializable subset of a strategy's state: what survives a
// snapshot/restore cycle. Values must be yaml-representable.
type Vars map[string]any

// Clone copies the map one level deep, which is enough for the iteration
// diffing TraceStats receives. Strategies that nest mutable structures in
// Vars should treat snapshots as read-only.
func (v Vars) Clone() Vars {
	if v == nil {
		return nil
	}

	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}

	return out
}

// Context is the per-strategy state passed by reference into every callback.
// One executor owns one context; callbacks for one strategy never run
// concurrently, so no locking is needed inside.
type Context struct {
	Clock    clock.Clock
	Calendar *calendar.Calendar
	Broker   broker.Broker
	Data     data.Provider
	Log      *logger.Logger

	// Vars holds strategy-local state that persists across callbacks and
	// is eligible for external backup.
	Vars Vars
}

// NewContext wires the capability set a strategy runs against.
func NewContext(c clock.Clock, cal *calendar.Calendar, b broker.Broker, d data.Provider, log *logger.Logger) *Context {
	return &Context{
		Clock:    c,
		Calendar: cal,
		Broker:   b,
		Data:     d,
		Log:      log,
		Vars:     make(Vars),
	}
}

// Snapshot serializes Vars for external backup.
func (c *Context) Snapshot() ([]byte, error) {
	out, err := yaml.Marshal(c.Vars)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCallbackFailed, "failed to snapshot strategy vars", err)
	}

	return out, nil
}

// Restore replaces Vars from a previous Snapshot.
func (c *Context) Restore(snapshot []byte) error {
	vars := make(Vars)
	if err := yaml.Unmarshal(snapshot, &vars); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "failed to restore strategy vars", err)
	}

	c.Vars = vars

	return nil
}
