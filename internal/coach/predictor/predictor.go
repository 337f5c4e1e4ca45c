package predictor

import "math"

// Intensity is the recommended workout level.
type Intensity string

const (
	IntensityRest    Intensity = "Rest"
	IntensityLight   Intensity = "Light"
	IntensityNormal  Intensity = "Normal"
	IntensityIntense Intensity = "Intense"
)

func (i Intensity) String() string {
	return string(i)
}

// RiskLevel is the chance the user drops the recommended workout.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

func (r RiskLevel) String() string {
	return string(r)
}

// Inputs are not validated or clamped. Energy is meant to be 1-10, completion
// rate 0-1 and availability 1-4, but every numeric value is scored.
type Inputs struct {
	Energy         float64
	SkippedDays    int
	CompletionRate float64
	Availability   int
}

// Factors echo the raw inputs next to the clamped score they produced.
type Factors struct {
	EnergyLevel     float64 `json:"energy_level"`
	SkippedDays     int     `json:"skipped_days"`
	CompletionRate  float64 `json:"completion_rate"`
	Availability    int     `json:"availability"`
	CalculatedScore int     `json:"calculated_score"`
}

// Result is a single intensity recommendation.
type Result struct {
	Prediction Intensity `json:"prediction"`
	Confidence float64   `json:"confidence"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Factors    Factors   `json:"factors"`
}

// Scorer maps inputs to an intensity recommendation.
type Scorer interface {
	Predict(in Inputs) Result
}

var _ Scorer = Policy{}

// EnergyTier awards Points when energy >= MinEnergy.
type EnergyTier struct {
	MinEnergy float64
	Points    int
}

// Policy holds every constant of the rule based scorer.
// Tiers must be sorted by MinEnergy, descending; the first match wins.
type Policy struct {
	EnergyTiers           []EnergyTier
	MaxSkippedDaysPenalty int
	CompletionWeight      float64
	MaxAvailabilityBonus  int
	MinScore              int
	MaxScore              int
	// Labels is indexed by the clamped score.
	Labels []Intensity
	// score >= RiskLowFrom -> Low, score >= RiskMediumFrom -> Medium, otherwise High.
	RiskLowFrom       int
	RiskMediumFrom    int
	ConfidenceBase    float64
	ConfidenceStep    float64
	ConfidenceCeiling float64
}

var DefaultPolicy = Policy{
	EnergyTiers: []EnergyTier{
		{MinEnergy: 7, Points: 3},
		{MinEnergy: 5, Points: 2},
		{MinEnergy: 3, Points: 1},
	},
	MaxSkippedDaysPenalty: 3,
	CompletionWeight:      2,
	MaxAvailabilityBonus:  2,
	MinScore:              0,
	MaxScore:              3,
	Labels: []Intensity{
		IntensityRest,
		IntensityLight,
		IntensityNormal,
		IntensityIntense,
	},
	RiskLowFrom:       2,
	RiskMediumFrom:    1,
	ConfidenceBase:    0.6,
	ConfidenceStep:    0.1,
	ConfidenceCeiling: 0.95,
}

// Predict scores the inputs with DefaultPolicy.
func Predict(in Inputs) Result {
	return DefaultPolicy.Predict(in)
}

func (p Policy) Predict(in Inputs) Result {
	score := p.Score(in)
	return Result{
		Prediction: p.Labels[score-p.MinScore],
		Confidence: p.Confidence(score),
		RiskLevel:  p.Risk(score),
		Factors: Factors{
			EnergyLevel:     in.Energy,
			SkippedDays:     in.SkippedDays,
			CompletionRate:  in.CompletionRate,
			Availability:    in.Availability,
			CalculatedScore: score,
		},
	}
}

// Score returns the clamped integer score for the inputs.
func (p Policy) Score(in Inputs) int {
	score := p.energyPoints(in.Energy)

	// capped from above only: negative skipped days increase the score
	score -= min(in.SkippedDays, p.MaxSkippedDaysPenalty)

	// int conversion truncates toward zero
	score += int(in.CompletionRate * p.CompletionWeight)

	// availability 0 yields -1
	score += min(in.Availability-1, p.MaxAvailabilityBonus)

	return max(p.MinScore, min(p.MaxScore, score))
}

func (p Policy) energyPoints(energy float64) int {
	for _, tier := range p.EnergyTiers {
		if energy >= tier.MinEnergy {
			return tier.Points
		}
	}
	return 0
}

// Confidence grows with the score, capped and rounded to two decimals.
func (p Policy) Confidence(score int) float64 {
	confidence := math.Min(p.ConfidenceCeiling, p.ConfidenceBase+float64(score)*p.ConfidenceStep)
	return math.Round(confidence*100) / 100
}

func (p Policy) Risk(score int) RiskLevel {
	switch {
	case score >= p.RiskLowFrom:
		return RiskLow
	case score >= p.RiskMediumFrom:
		return RiskMedium
	default:
		return RiskHigh
	}
}
