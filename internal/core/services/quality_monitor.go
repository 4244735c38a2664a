package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"telesig/internal/core/domain"
	"telesig/internal/core/ports"
	apperrors "telesig/pkg/errors"
	"telesig/pkg/cache"
)

// QualityMonitorConfig carries the sampling knobs, all externally supplied.
type QualityMonitorConfig struct {
	SampleInterval   time.Duration
	GoodLossMax      float64
	PoorLossMin      float64
	UnreachableAfter int
}

// QualityMonitor samples transport statistics for every established pairing
// on its own ticker, classifies packet loss into tiers and escalates: two
// consecutive poor samples raise a degraded event (informational), and a run
// of unreachable-after consecutive poor or unobtainable samples fails the
// pairing. It runs entirely outside the session lock and never blocks
// negotiation.
type QualityMonitor struct {
	cfg    QualityMonitorConfig
	stats  ports.StatsProvider
	failer ports.PairingFailer
	sink   ports.EventSink
	logger *zap.SugaredLogger

	window *cache.Cache

	mu       sync.Mutex
	watchers map[domain.PairID]chan struct{}
}

func NewQualityMonitor(cfg QualityMonitorConfig, stats ports.StatsProvider, failer ports.PairingFailer, sink ports.EventSink, logger *zap.Logger) *QualityMonitor {
	return &QualityMonitor{
		cfg:      cfg,
		stats:    stats,
		failer:   failer,
		sink:     sink,
		logger:   logger.Sugar(),
		window:   cache.New(time.Minute),
		watchers: make(map[domain.PairID]chan struct{}),
	}
}

// Track starts sampling an established pairing. Tracking the same pairing
// twice is a no-op.
func (m *QualityMonitor) Track(sessionID domain.SessionID, pairID domain.PairID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, tracked := m.watchers[pairID]; tracked {
		return
	}
	stop := make(chan struct{})
	m.watchers[pairID] = stop
	go m.watch(sessionID, pairID, stop)
}

// Untrack stops sampling a pairing, typically when it fails or its session
// ends.
func (m *QualityMonitor) Untrack(pairID domain.PairID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.watchers[pairID]; ok {
		close(stop)
		delete(m.watchers, pairID)
	}
}

// Stop halts every watcher and the sample window.
func (m *QualityMonitor) Stop() {
	m.mu.Lock()
	for pairID, stop := range m.watchers {
		close(stop)
		delete(m.watchers, pairID)
	}
	m.mu.Unlock()
	m.window.Close()
}

// Window returns the rolling sample window for a pairing, newest last.
func (m *QualityMonitor) Window(pairID domain.PairID) []domain.QualitySample {
	v, ok := m.window.Get(string(pairID))
	if !ok {
		return nil
	}
	return v.([]domain.QualitySample)
}

func (m *QualityMonitor) watch(sessionID domain.SessionID, pairID domain.PairID, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	consecutivePoor := 0
	consecutiveMissed := 0

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SampleInterval)
		loss, err := m.stats.Sample(ctx, sessionID, pairID)
		cancel()

		if err != nil {
			consecutiveMissed++
			m.logger.Debugw("stats sample missed",
				"pair_id", pairID, "consecutive", consecutiveMissed, "error", err)
			if consecutiveMissed >= m.cfg.UnreachableAfter {
				m.escalate(sessionID, pairID)
				return
			}
			continue
		}
		consecutiveMissed = 0

		sample := domain.QualitySample{
			PairID:          pairID,
			Timestamp:       time.Now(),
			PacketLossRatio: loss,
			Tier:            domain.ClassifyLoss(loss, m.cfg.GoodLossMax, m.cfg.PoorLossMin),
		}
		m.record(sample)

		if sample.Tier != domain.QualityPoor {
			consecutivePoor = 0
			continue
		}
		consecutivePoor++
		if consecutivePoor == 2 {
			m.logger.Infow("pairing degraded", "session_id", sessionID, "pair_id", pairID, "loss", loss)
			m.sink.QualityDegraded(sessionID, sample)
		}
		if consecutivePoor >= m.cfg.UnreachableAfter {
			m.escalate(sessionID, pairID)
			return
		}
	}
}

func (m *QualityMonitor) record(sample domain.QualitySample) {
	const windowSize = 12

	samples := m.Window(sample.PairID)
	samples = append(samples, sample)
	if len(samples) > windowSize {
		samples = samples[len(samples)-windowSize:]
	}
	m.window.Set(string(sample.PairID), samples)
}

func (m *QualityMonitor) escalate(sessionID domain.SessionID, pairID domain.PairID) {
	m.logger.Warnw("transport unreachable, failing pairing",
		"session_id", sessionID, "pair_id", pairID)

	reason := apperrors.NewTransportUnreachable(string(pairID))
	reason.Cause = domain.ErrTransportUnreachable
	if err := m.failer.FailPairing(context.Background(), sessionID, pairID, reason); err != nil {
		m.logger.Errorw("failed to fail pairing", "pair_id", pairID, "error", err)
	}
	m.Untrack(pairID)
}
