// Package stats is the broker's metrics tracker: a fixed metric set
// ("*.n" for a counter, "*.size" for a byte count) registered once at
// startup and backed by prometheus/client_golang. No HTTP exposition
// surface is wired here; the package only exposes a Registry() a caller
// could serve, as a named seam.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Naming convention:
//
//	-> "*.n"    - counter
//	-> "*.size" - size (bytes)
const (
	SessionsActive    = "sessions.active.n"
	SessionsAccepted  = "sessions.accepted.n"
	FramesRouted      = "frames.routed.n"
	FramesRoutedSize  = "frames.routed.size"
	FramesDropped     = "frames.dropped.n"
	QueueOverflowDrop = "queue.overflow.n"
	HandshakeFail     = "handshake.fail.n"
	DecodeFail        = "decode.fail.n"
)

// Tracker registers and updates the broker's runtime counters/gauges, a
// thin wrapper over a fixed set of prometheus collectors.
type Tracker struct {
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// New builds a Tracker with the broker's fixed metric set pre-registered.
func New() *Tracker {
	t := &Tracker{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter, 8),
		gauges:   make(map[string]prometheus.Gauge, 2),
	}
	t.regCounter(FramesRouted, "Total frame deliveries, one per receiving peer.")
	t.regCounter(FramesRoutedSize, "Total payload bytes fanned out.")
	t.regCounter(FramesDropped, "Total frames that matched no subscriber.")
	t.regCounter(QueueOverflowDrop, "Sessions disconnected for exceeding max send-queue depth.")
	t.regCounter(HandshakeFail, "Handshake attempts rejected (wrong event or bad subscription).")
	t.regCounter(DecodeFail, "Connections dropped for a malformed frame.")
	t.regCounter(SessionsAccepted, "Total accepted connections since start.")
	t.regGauge(SessionsActive, "Currently live sessions (any state).")
	return t
}

func (t *Tracker) regCounter(name, help string) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "routingbroker",
		Name:      promName(name),
		Help:      help,
	})
	t.registry.MustRegister(c)
	t.counters[name] = c
}

func (t *Tracker) regGauge(name, help string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "routingbroker",
		Name:      promName(name),
		Help:      help,
	})
	t.registry.MustRegister(g)
	t.gauges[name] = g
}

// Inc increments a registered counter by 1.
func (t *Tracker) Inc(name string) { t.Add(name, 1) }

// Add increments a registered counter by delta.
func (t *Tracker) Add(name string, delta int64) {
	if c, ok := t.counters[name]; ok {
		c.Add(float64(delta))
	}
}

// IncGauge / DecGauge adjust a gauge by one: incremented on accept,
// decremented on disconnect, so SessionsActive tracks the live count.
func (t *Tracker) IncGauge(name string) {
	if g, ok := t.gauges[name]; ok {
		g.Inc()
	}
}

func (t *Tracker) DecGauge(name string) {
	if g, ok := t.gauges[name]; ok {
		g.Dec()
	}
}

// Registry returns the underlying prometheus registry, the seam an
// operator-facing HTTP handler (out of scope here) would gather from.
func (t *Tracker) Registry() *prometheus.Registry { return t.registry }

func promName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out = append(out, '_')
		} else {
			out = append(out, name[i])
		}
	}
	return string(out)
}
