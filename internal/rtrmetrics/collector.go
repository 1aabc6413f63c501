// Package rtrmetrics exposes Prometheus collectors for the RTR cache
// session core and the BGPsec verification engine, mirroring
// internal/metrics/collector.go's GaugeVec/CounterVec shape for the
// RTR/BGPsec domain instead of BFD.
package rtrmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "rtrsec"
	subsystem = "rtr"
)

// Label names for RTR/BGPsec metrics.
const (
	labelRemoteAddr = "remote_addr"
	labelPDUType    = "pdu_type"
	labelFromState  = "from_state"
	labelToState    = "to_state"
	labelAlgorithm  = "algorithm"
	labelOutcome    = "outcome"
)

// -------------------------------------------------------------------------
// Collector — Prometheus RTR/BGPsec Metrics
// -------------------------------------------------------------------------

// Collector holds all RTR and BGPsec Prometheus metrics.
//
//   - Clients tracks currently connected RTR cache sessions.
//   - PDUsSent/PDUsReceived/PDUsDropped track protocol traffic per peer.
//   - StateTransitions records client FSM changes for alerting.
//   - VerifyOutcomes counts BGPsec path verification results by algorithm
//     suite and outcome (valid/invalid).
//   - CacheSerial reports the store's current serial number as a gauge.
type Collector struct {
	// Clients tracks the number of currently connected RTR cache sessions
	// (server side) or established sessions (client side).
	Clients *prometheus.GaugeVec

	// PDUsSent counts RTR PDUs transmitted, labeled by PDU type.
	PDUsSent *prometheus.CounterVec

	// PDUsReceived counts RTR PDUs received, labeled by PDU type.
	PDUsReceived *prometheus.CounterVec

	// PDUsDropped counts RTR PDUs dropped (oversized, malformed, or
	// otherwise rejected before dispatch), labeled by remote address.
	PDUsDropped *prometheus.CounterVec

	// StateTransitions counts client FSM state transitions, labeled with
	// the old and new state.
	StateTransitions *prometheus.CounterVec

	// VerifyOutcomes counts BGPsec path verification results, labeled by
	// algorithm suite and outcome ("valid" or "invalid").
	VerifyOutcomes *prometheus.CounterVec

	// CacheSerial reports the cache store's current serial number.
	CacheSerial prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Clients,
		c.PDUsSent,
		c.PDUsReceived,
		c.PDUsDropped,
		c.StateTransitions,
		c.VerifyOutcomes,
		c.CacheSerial,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	clientLabels := []string{labelRemoteAddr}
	pduLabels := []string{labelRemoteAddr, labelPDUType}
	transitionLabels := []string{labelRemoteAddr, labelFromState, labelToState}
	verifyLabels := []string{labelAlgorithm, labelOutcome}

	return &Collector{
		Clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "clients",
			Help:      "Number of currently connected RTR cache sessions.",
		}, clientLabels),

		PDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_sent_total",
			Help:      "Total RTR PDUs transmitted, by PDU type.",
		}, pduLabels),

		PDUsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_received_total",
			Help:      "Total RTR PDUs received, by PDU type.",
		}, pduLabels),

		PDUsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_dropped_total",
			Help:      "Total RTR PDUs dropped due to size limits or decode failure.",
		}, clientLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total RTR client FSM state transitions.",
		}, transitionLabels),

		VerifyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bgpsec",
			Name:      "verify_outcomes_total",
			Help:      "Total BGPsec path verification outcomes, by algorithm suite and result.",
		}, verifyLabels),

		CacheSerial: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_serial",
			Help:      "Current serial number of the cache store.",
		}),
	}
}

// -------------------------------------------------------------------------
// Client Lifecycle
// -------------------------------------------------------------------------

// RegisterClient increments the connected clients gauge for remoteAddr.
// Called when the server accepts a new connection.
func (c *Collector) RegisterClient(remoteAddr string) {
	c.Clients.WithLabelValues(remoteAddr).Inc()
}

// UnregisterClient decrements the connected clients gauge for remoteAddr.
// Called when a connection closes.
func (c *Collector) UnregisterClient(remoteAddr string) {
	c.Clients.WithLabelValues(remoteAddr).Dec()
}

// -------------------------------------------------------------------------
// PDU Counters
// -------------------------------------------------------------------------

// IncPDUsSent increments the transmitted PDU counter for remoteAddr and pduType.
func (c *Collector) IncPDUsSent(remoteAddr, pduType string) {
	c.PDUsSent.WithLabelValues(remoteAddr, pduType).Inc()
}

// IncPDUsReceived increments the received PDU counter for remoteAddr and pduType.
func (c *Collector) IncPDUsReceived(remoteAddr, pduType string) {
	c.PDUsReceived.WithLabelValues(remoteAddr, pduType).Inc()
}

// IncPDUsDropped increments the dropped PDU counter for remoteAddr.
func (c *Collector) IncPDUsDropped(remoteAddr string) {
	c.PDUsDropped.WithLabelValues(remoteAddr).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels.
func (c *Collector) RecordStateTransition(remoteAddr, from, to string) {
	c.StateTransitions.WithLabelValues(remoteAddr, from, to).Inc()
}

// -------------------------------------------------------------------------
// BGPsec Verification
// -------------------------------------------------------------------------

// RecordVerifyOutcome increments the verification outcome counter for the
// given algorithm suite. valid selects the "valid"/"invalid" label value.
func (c *Collector) RecordVerifyOutcome(algorithm string, valid bool) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	c.VerifyOutcomes.WithLabelValues(algorithm, outcome).Inc()
}

// -------------------------------------------------------------------------
// Cache Store
// -------------------------------------------------------------------------

// SetCacheSerial updates the cache serial gauge.
func (c *Collector) SetCacheSerial(serial uint32) {
	c.CacheSerial.Set(float64(serial))
}
