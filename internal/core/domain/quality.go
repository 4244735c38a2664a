package domain

import "time"

type QualityTier string

const (
	QualityGood QualityTier = "good"
	QualityFair QualityTier = "fair"
	QualityPoor QualityTier = "poor"
)

// QualitySample is one transport statistics reading for an established
// pairing. Samples are ephemeral: kept in a short rolling window only.
type QualitySample struct {
	PairID          PairID      `json:"pair_id"`
	Timestamp       time.Time   `json:"timestamp"`
	PacketLossRatio float64     `json:"packet_loss_ratio"`
	Tier            QualityTier `json:"tier"`
}

// ClassifyLoss maps a packet loss ratio onto a quality tier given the tier
// boundaries (good below goodMax, poor above poorMin, fair in between).
func ClassifyLoss(ratio, goodMax, poorMin float64) QualityTier {
	switch {
	case ratio < goodMax:
		return QualityGood
	case ratio > poorMin:
		return QualityPoor
	default:
		return QualityFair
	}
}
