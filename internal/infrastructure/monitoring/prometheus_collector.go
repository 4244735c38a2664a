package monitoring

import (
	"time"

	"telesig/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsActive        prometheus.Gauge
	participantsConnected prometheus.Gauge
	sessionsTotal         *prometheus.CounterVec
	pairingsEstablished   prometheus.Counter
	pairingsFailed        *prometheus.CounterVec
	signalMessages        *prometheus.CounterVec

	waitingRoomDuration prometheus.Histogram
	negotiationDuration prometheus.Histogram
	packetLossRatio     *prometheus.HistogramVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telesig_sessions_active",
			Help: "Number of consultation sessions currently active",
		}),

		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telesig_participants_connected",
			Help: "Number of participants with an open signaling connection",
		}),

		sessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesig_sessions_total",
			Help: "Total number of sessions by terminal state",
		}, []string{"state"}),

		pairingsEstablished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telesig_pairings_established_total",
			Help: "Total number of peer pairings that reached the established state",
		}),

		pairingsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesig_pairings_failed_total",
			Help: "Total number of peer pairings that failed, by reason",
		}, []string{"reason"}),

		signalMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesig_signal_messages_total",
			Help: "Total number of signaling messages relayed, by kind",
		}, []string{"kind"}),

		waitingRoomDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "telesig_waiting_room_duration_seconds",
			Help:    "Time guests spend in the waiting room before admission",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		negotiationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "telesig_negotiation_duration_seconds",
			Help:    "Time from pairing creation to established",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		packetLossRatio: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telesig_packet_loss_ratio",
			Help:    "Sampled packet loss ratio per pairing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		}, []string{"tier"}),
	}
}

func (p *PrometheusCollector) RecordSessionStarted() {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) RecordSessionEnded(state domain.SessionState) {
	p.sessionsActive.Dec()
	p.sessionsTotal.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) RecordParticipantConnected() {
	p.participantsConnected.Inc()
}

func (p *PrometheusCollector) RecordParticipantDisconnected() {
	p.participantsConnected.Dec()
}

func (p *PrometheusCollector) RecordPairingEstablished(since time.Time) {
	p.pairingsEstablished.Inc()
	p.negotiationDuration.Observe(time.Since(since).Seconds())
}

func (p *PrometheusCollector) RecordPairingFailed(reason string) {
	p.pairingsFailed.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordSignalMessage(kind string) {
	p.signalMessages.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordWaitingRoomDuration(d time.Duration) {
	p.waitingRoomDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordPacketLoss(sample domain.QualitySample) {
	p.packetLossRatio.WithLabelValues(string(sample.Tier)).Observe(sample.PacketLossRatio)
}
