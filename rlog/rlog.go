// Package rlog is the structured logging facade every package logs
// through. It wraps zerolog and, when called with a context carrying an
// active request, enriches the log line with that request's id.
package rlog

import (
	"context"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"dream/host/reqtrack"
)

// InternalKeyPrefix marks field keys reserved for the core itself; a
// caller-supplied field with this prefix is renamed to avoid colliding
// with one the core emits (e.g. "request_id").
const InternalKeyPrefix = "dream_"

// Manager is the process-wide logging entry point, bound to the
// RequestTracker so Ctx-scoped calls can find the active request.
type Manager struct {
	rt *reqtrack.RequestTracker
}

func NewManager(rt *reqtrack.RequestTracker) *Manager {
	return &Manager{rt: rt}
}

// Ctx holds additional logging fields for chained calls, e.g.
// rlog.With("service", name).Info("started").
type Ctx struct {
	fields []interface{}
	mgr    *Manager
}

func (m *Manager) Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	m.doLog(m.rt.Logger(ctx).Debug(), msg, keysAndValues...)
}

func (m *Manager) Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	m.doLog(m.rt.Logger(ctx).Info(), msg, keysAndValues...)
}

func (m *Manager) Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	m.doLog(m.rt.Logger(ctx).Warn(), msg, keysAndValues...)
}

func (m *Manager) Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	m.doLog(m.rt.Logger(ctx).Error(), msg, keysAndValues...)
}

func (m *Manager) With(keysAndValues ...interface{}) Ctx {
	return Ctx{fields: append([]interface{}{}, keysAndValues...), mgr: m}
}

func (c Ctx) Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if c.mgr == nil {
		return
	}
	c.mgr.doLog(c.mgr.rt.Logger(ctx).Debug(), msg, append(c.fields, keysAndValues...)...)
}

func (c Ctx) Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if c.mgr == nil {
		return
	}
	c.mgr.doLog(c.mgr.rt.Logger(ctx).Info(), msg, append(c.fields, keysAndValues...)...)
}

func (c Ctx) Warn(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if c.mgr == nil {
		return
	}
	c.mgr.doLog(c.mgr.rt.Logger(ctx).Warn(), msg, append(c.fields, keysAndValues...)...)
}

func (c Ctx) Error(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if c.mgr == nil {
		return
	}
	c.mgr.doLog(c.mgr.rt.Logger(ctx).Error(), msg, append(c.fields, keysAndValues...)...)
}

func (c Ctx) With(keysAndValues ...interface{}) Ctx {
	return Ctx{fields: append(append([]interface{}{}, c.fields...), keysAndValues...), mgr: c.mgr}
}

func (m *Manager) doLog(ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		addEventEntry(ev, key, keysAndValues[i+1])
	}
	ev.Msg(msg)
}

func addEventEntry(ev *zerolog.Event, key string, val interface{}) {
	if reserved(key) {
		key = "x_" + key
	}
	switch val := val.(type) {
	case error:
		ev.AnErr(key, val)
	case string:
		ev.Str(key, val)
	case bool:
		ev.Bool(key, val)
	case time.Time:
		ev.Time(key, val)
	case time.Duration:
		ev.Dur(key, val)
	case xid.ID:
		ev.Str(key, val.String())
	case int:
		ev.Int(key, val)
	case int64:
		ev.Int64(key, val)
	case uint:
		ev.Uint(key, val)
	case uint64:
		ev.Uint64(key, val)
	case float64:
		ev.Float64(key, val)
	default:
		ev.Interface(key, val)
	}
}

func reserved(key string) bool {
	return strings.HasPrefix(key, InternalKeyPrefix)
}
