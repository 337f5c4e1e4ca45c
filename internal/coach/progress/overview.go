package progress

import (
	"slices"
	"time"
)

const (
	oneDay = 24 * time.Hour

	weekWindow          = 7 * oneDay
	monthWindow         = 30 * oneDay
	energyTrendWindow   = 14 * oneDay
	recentCheckinsCount = 30
)

// Overview summarises the dated check-in history of a user.
type Overview struct {
	UserID                string     `json:"userId"`
	WeeklyCompletionRate  float64    `json:"weekly_completion_rate"`
	MonthlyCompletionRate float64    `json:"monthly_completion_rate"`
	CurrentStreak         int        `json:"current_streak"`
	LongestStreak         int        `json:"longest_streak"`
	ActiveDayStreak       int        `json:"active_day_streak"`
	TotalWorkouts         int        `json:"total_workouts"`
	TotalCheckins         int        `json:"total_checkins"`
	AverageEnergy         float64    `json:"average_energy"`
	CompletionRate        float64    `json:"completion_rate"`
	LastCheckin           *time.Time `json:"last_checkin"`
	TotalDaysTracked      int        `json:"total_days_tracked"`
	ConsistencyScore      float64    `json:"consistency_score"`
}

// NewOverview derives the overview of a record as seen at now.
// Windows are open at the start: a check-in exactly 7 days old is
// not part of the weekly rate.
func NewOverview(userID string, r Record, now time.Time) *Overview {
	monthly := completionRate(since(r.History, now.Add(-monthWindow)))
	energy := averageEnergyValue(since(r.History, now.Add(-energyTrendWindow)))

	recent := r.History
	if len(recent) > recentCheckinsCount {
		recent = recent[len(recent)-recentCheckinsCount:]
	}

	return &Overview{
		UserID:                userID,
		WeeklyCompletionRate:  roundTo(completionRate(since(r.History, now.Add(-weekWindow))), 2),
		MonthlyCompletionRate: roundTo(monthly, 2),
		CurrentStreak:         r.Streak,
		LongestStreak:         r.LongestStreak,
		ActiveDayStreak:       activeDayStreak(r.History, now),
		TotalWorkouts:         r.TotalCompleted,
		TotalCheckins:         r.TotalCheckins(),
		AverageEnergy:         roundTo(energy, 2),
		CompletionRate:        roundTo(completionRate(recent), 2),
		LastCheckin:           r.LastCheckin,
		TotalDaysTracked:      len(distinctDays(r.History, false)),
		ConsistencyScore:      roundTo(monthly*energy/10, 2),
	}
}

func since(history []Checkin, cutoff time.Time) []Checkin {
	var window []Checkin
	for _, c := range history {
		if c.Date.After(cutoff) {
			window = append(window, c)
		}
	}
	return window
}

func completionRate(checkins []Checkin) float64 {
	if len(checkins) == 0 {
		return 0
	}
	completed := 0
	for _, c := range checkins {
		if c.Completed {
			completed++
		}
	}
	return float64(completed) / float64(len(checkins))
}

func averageEnergyValue(checkins []Checkin) float64 {
	if len(checkins) == 0 {
		return 0
	}
	sum := 0
	for _, c := range checkins {
		sum += c.EnergyValue
	}
	return float64(sum) / float64(len(checkins))
}

// activeDayStreak counts consecutive UTC calendar days with a completed
// workout, ending today or yesterday.
func activeDayStreak(history []Checkin, now time.Time) int {
	days := distinctDays(history, true)
	if len(days) == 0 {
		return 0
	}

	// newest first
	slices.Reverse(days)
	if truncateDay(now).Sub(days[0]) > oneDay {
		return 0
	}

	streak := 1
	for i := 1; i < len(days); i++ {
		if days[i-1].Sub(days[i]) != oneDay {
			break
		}
		streak++
	}
	return streak
}

// distinctDays returns the sorted UTC days present in the history.
func distinctDays(history []Checkin, completedOnly bool) []time.Time {
	var days []time.Time
	for _, c := range history {
		if completedOnly && !c.Completed {
			continue
		}
		days = append(days, truncateDay(c.Date))
	}
	slices.SortFunc(days, func(a, b time.Time) int {
		return a.Compare(b)
	})
	return slices.CompactFunc(days, time.Time.Equal)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
