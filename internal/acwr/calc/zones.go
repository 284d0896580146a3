package calc

type RiskZone string

const (
	RiskZoneUndertraining RiskZone = "undertraining"
	RiskZoneOptimal       RiskZone = "optimal"
	RiskZoneCaution       RiskZone = "caution"
	RiskZoneHighRisk      RiskZone = "high_risk"
)

func RiskZoneFor(acwr float64) RiskZone {
	switch {
	case acwr < 0.8:
		return RiskZoneUndertraining
	case acwr <= 1.3:
		return RiskZoneOptimal
	case acwr <= 1.5:
		return RiskZoneCaution
	default:
		return RiskZoneHighRisk
	}
}

type DivergenceSignal string

const (
	DivergenceOverreaching DivergenceSignal = "overreaching"
	DivergenceBalanced     DivergenceSignal = "balanced"
	DivergenceHeadroom     DivergenceSignal = "headroom"
)

const divergenceThreshold = 0.15

func DivergenceSignalFor(divergence float64) DivergenceSignal {
	switch {
	case divergence < -divergenceThreshold:
		return DivergenceOverreaching
	case divergence > divergenceThreshold:
		return DivergenceHeadroom
	default:
		return DivergenceBalanced
	}
}
