package progress

import (
	"math"
	"slices"
	"time"

	"github.com/2beens/fitcoach/internal/coach/predictor"
)

// EnergyLevel is the self-reported energy sent with a feedback event.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

var energyValues = map[EnergyLevel]int{
	EnergyLow:    3,
	EnergyMedium: 6,
	EnergyHigh:   9,
}

// Value maps the level onto the 1-10 energy scale. Matching is exact,
// anything else (including "High") counts as medium.
func (e EnergyLevel) Value() int {
	if v, ok := energyValues[e]; ok {
		return v
	}
	return energyValues[EnergyMedium]
}

const (
	// used when a record has no energy samples yet
	defaultAverageEnergy = 6.0
	// days in the look-back window used to derive skipped days from the streak
	streakWindowDays = 7
	// availability assumed when deriving the plan intensity
	statusAvailability = 2

	historyRetention  = 90 * 24 * time.Hour
	historyMaxEntries = 100
)

// Feedback is a single workout feedback event.
type Feedback struct {
	UserID    string
	Completed bool
	Energy    EnergyLevel
	Reason    string
	Notes     string
}

// Checkin is a dated feedback event kept in the record history.
type Checkin struct {
	Date        time.Time   `json:"date"`
	Completed   bool        `json:"completed"`
	Energy      EnergyLevel `json:"energy"`
	EnergyValue int         `json:"energy_value"`
	Notes       string      `json:"notes,omitempty"`
}

// Record is the per-user aggregate built from feedback events.
//
// EnergyCount equals the number of feedback events ever applied,
// and TotalCompleted <= EnergyCount. History only holds the check-ins
// of the last 90 days, capped at 100 entries.
type Record struct {
	Streak         int        `json:"streak"`
	LongestStreak  int        `json:"longest_streak"`
	TotalCompleted int        `json:"total_completed"`
	EnergySum      int        `json:"energy_sum"`
	EnergyCount    int        `json:"energy_count"`
	LastCheckin    *time.Time `json:"last_checkin,omitempty"`
	History        []Checkin  `json:"history,omitempty"`
}

// Apply moves the record forward by one feedback event.
func (r *Record) Apply(completed bool, energy EnergyLevel) {
	if completed {
		r.Streak++
		r.TotalCompleted++
	} else {
		r.Streak = 0
	}
	r.LongestStreak = max(r.LongestStreak, r.Streak)

	r.EnergySum += energy.Value()
	r.EnergyCount++
}

// Checkin applies a dated feedback event and appends it to the history.
func (r *Record) Checkin(c Checkin) {
	r.Apply(c.Completed, c.Energy)

	c.EnergyValue = c.Energy.Value()
	date := c.Date
	r.LastCheckin = &date
	r.History = pruneHistory(append(r.History, c), c.Date)
}

// TotalCheckins is the number of feedback events ever applied.
func (r Record) TotalCheckins() int {
	return r.EnergyCount
}

func pruneHistory(history []Checkin, now time.Time) []Checkin {
	cutoff := now.Add(-historyRetention)
	kept := make([]Checkin, 0, len(history))
	for _, c := range history {
		if c.Date.After(cutoff) {
			kept = append(kept, c)
		}
	}
	if len(kept) > historyMaxEntries {
		kept = kept[len(kept)-historyMaxEntries:]
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// clone returns a copy that shares no memory with r.
func (r Record) clone() Record {
	r.History = slices.Clone(r.History)
	if r.LastCheckin != nil {
		lastCheckin := *r.LastCheckin
		r.LastCheckin = &lastCheckin
	}
	return r
}

func (r Record) AverageEnergy() float64 {
	if r.EnergyCount > 0 {
		return float64(r.EnergySum) / float64(r.EnergyCount)
	}
	return defaultAverageEnergy
}

// SkippedDays goes negative once the streak is longer than the window.
func (r Record) SkippedDays() int {
	return streakWindowDays - r.Streak
}

func (r Record) CompletionRate() float64 {
	return float64(r.TotalCompleted) / float64(max(1, r.TotalCompleted+r.SkippedDays()))
}

// ScoreInputs derives the scorer inputs from the aggregate.
func (r Record) ScoreInputs() predictor.Inputs {
	return predictor.Inputs{
		Energy:         r.AverageEnergy(),
		SkippedDays:    r.SkippedDays(),
		CompletionRate: r.CompletionRate(),
		Availability:   statusAvailability,
	}
}

type Status struct {
	UserID         string              `json:"userId"`
	CurrentStreak  int                 `json:"current_streak"`
	TotalCompleted int                 `json:"total_completed"`
	AverageEnergy  float64             `json:"average_energy"`
	PlanIntensity  predictor.Intensity `json:"plan_intensity"`
}

// NewStatus derives the read-only status view of a record.
func NewStatus(userID string, r Record, scorer predictor.Scorer) *Status {
	return &Status{
		UserID:         userID,
		CurrentStreak:  r.Streak,
		TotalCompleted: r.TotalCompleted,
		AverageEnergy:  roundTo(r.AverageEnergy(), 1),
		PlanIntensity:  scorer.Predict(r.ScoreInputs()).Prediction,
	}
}

// roundTo rounds half away from zero.
func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
