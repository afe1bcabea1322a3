// Copyright 2024-2026 Aiku AI

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stanzasHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "gateway",
		Name:      "stanzas_total",
		Help:      "Inbound presence stanzas by classified delta.",
	}, []string{"delta"})

	joinsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "gateway",
		Name:      "joins_total",
		Help:      "Join completions by result.",
	}, []string{"result"})

	fanoutSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "gateway",
		Name:      "fanout_sends_total",
		Help:      "Stanzas written during fan-out operations.",
	})

	drainTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "gateway",
		Name:      "drain_timeouts_total",
		Help:      "Transport drain waits that exceeded their budget.",
	})
)
