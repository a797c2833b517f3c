// Package metrics exposes the canvas service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tessella"
	subsystem = "canvas"
)

// Metrics holds the service collectors. All methods are safe on a nil
// receiver so wiring stays optional in tests and tooling.
type Metrics struct {
	edits           prometheus.Counter
	cellsWritten    prometheus.Counter
	tributeCharged  prometheus.Counter
	credAwarded     prometheus.Counter
	rewinds         prometheus.Counter
	cellsReverted   prometheus.Counter
	cellsSkipped    *prometheus.CounterVec
	deposits        prometheus.Counter
	amountDeposited prometheus.Counter

	ledgerHeight    prometheus.Gauge
	delta           prometheus.Gauge
	tributePool     prometheus.Gauge
	frozen          prometheus.Gauge
	feedSubscribers prometheus.Gauge
}

// New registers the canvas collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		edits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "edits_total",
			Help:      "Committed edit batches.",
		}),
		cellsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cells_written_total",
			Help:      "Cell writes committed by edit batches.",
		}),
		tributeCharged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tribute_charged_total",
			Help:      "Tribute debited from editor balances.",
		}),
		credAwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cred_awarded_total",
			Help:      "Cred credited to participants.",
		}),
		rewinds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rewinds_total",
			Help:      "Committed moderation rewind calls.",
		}),
		cellsReverted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cells_reverted_total",
			Help:      "Cells restored by moderation rewinds.",
		}),
		cellsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cells_skipped_total",
			Help:      "Rewind cells skipped, by outcome.",
		}, []string{"outcome"}),
		deposits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deposits_total",
			Help:      "Committed treasury deposits.",
		}),
		amountDeposited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "amount_deposited_total",
			Help:      "Value credited to participant balances.",
		}),
		ledgerHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_height",
			Help:      "Last committed ledger height.",
		}),
		delta: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delta",
			Help:      "Total committed cell edits across the grid.",
		}),
		tributePool: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tribute_pool",
			Help:      "Accumulated tribute balance.",
		}),
		frozen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frozen",
			Help:      "1 when the canvas is frozen.",
		}),
		feedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "feed_subscribers",
			Help:      "Connected event feed subscribers.",
		}),
	}
}

// EditCommitted records one committed edit batch.
func (m *Metrics) EditCommitted(cells int, charged, credAwarded uint64) {
	if m == nil {
		return
	}
	m.edits.Inc()
	m.cellsWritten.Add(float64(cells))
	m.tributeCharged.Add(float64(charged))
	m.credAwarded.Add(float64(credAwarded))
}

// RewindCommitted records one committed rewind call.
func (m *Metrics) RewindCommitted(reverted int) {
	if m == nil {
		return
	}
	m.rewinds.Inc()
	m.cellsReverted.Add(float64(reverted))
}

// CellSkipped records one rewind cell skipped with the given outcome label.
func (m *Metrics) CellSkipped(outcome string) {
	if m == nil {
		return
	}
	m.cellsSkipped.WithLabelValues(outcome).Inc()
}

// DepositCommitted records one committed treasury deposit.
func (m *Metrics) DepositCommitted(amount uint64) {
	if m == nil {
		return
	}
	m.deposits.Inc()
	m.amountDeposited.Add(float64(amount))
}

// ObserveState refreshes the gauges from committed canvas counters.
func (m *Metrics) ObserveState(height uint32, delta, tributePool uint64, frozen bool) {
	if m == nil {
		return
	}
	m.ledgerHeight.Set(float64(height))
	m.delta.Set(float64(delta))
	m.tributePool.Set(float64(tributePool))
	if frozen {
		m.frozen.Set(1)
	} else {
		m.frozen.Set(0)
	}
}

// FeedSubscriberAdded increments the feed subscriber gauge.
func (m *Metrics) FeedSubscriberAdded() {
	if m == nil {
		return
	}
	m.feedSubscribers.Inc()
}

// FeedSubscriberRemoved decrements the feed subscriber gauge.
func (m *Metrics) FeedSubscriberRemoved() {
	if m == nil {
		return
	}
	m.feedSubscribers.Dec()
}
