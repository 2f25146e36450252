package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	unsolicitedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmgw",
			Subsystem: "modem",
			Name:      "unsolicited_events_total",
			Help:      "Unsolicited modem messages dispatched, by sentence tag.",
		},
		[]string{"tag"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmgw",
			Subsystem: "modem",
			Name:      "commands_total",
			Help:      "Modem commands issued by the gateway, by result.",
		},
		[]string{"command", "result"},
	)
	websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swarmgw",
			Subsystem: "events",
			Name:      "websocket_clients",
			Help:      "Currently connected websocket event subscribers.",
		},
	)
)

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(unsolicitedEvents, commands, websocketClients)
	})
}

func recordEvent(tag string) {
	registerMetrics()
	unsolicitedEvents.WithLabelValues(tag).Inc()
}

func recordCommand(command string, err error) {
	registerMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	commands.WithLabelValues(command, result).Inc()
}
