package monitor

import (
	"sync"
	"time"
)

// Metrics collects process counters for the system status endpoint.
type Metrics struct {
	mu             sync.Mutex
	startedAt      time.Time
	requests       uint64
	requestErrors  uint64
	engineEvents   uint64
	tradesAccepted uint64
}

func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) RecordRequest(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if failed {
		m.requestErrors++
	}
}

func (m *Metrics) RecordEngineEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engineEvents++
}

func (m *Metrics) RecordTradeAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradesAccepted++
}

// Snapshot is the status-endpoint view of the counters.
type Snapshot struct {
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	Requests       uint64  `json:"requests"`
	RequestErrors  uint64  `json:"requestErrors"`
	EngineEvents   uint64  `json:"engineEvents"`
	TradesAccepted uint64  `json:"tradesAccepted"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		UptimeSeconds:  time.Since(m.startedAt).Seconds(),
		Requests:       m.requests,
		RequestErrors:  m.requestErrors,
		EngineEvents:   m.engineEvents,
		TradesAccepted: m.tradesAccepted,
	}
}
