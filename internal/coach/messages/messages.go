package messages

import (
	"fmt"
	"strings"
)

const (
	lowEnergyBelow = 4
	missedDaysOver = 2
	streakFrom     = 3

	motivationKeyword = "motivation"
)

const (
	msgRecovery   = "I see your energy is low today. Let's focus on recovery. A short walk or gentle stretching would be perfect."
	msgEaseBack   = "You've had a few missed days, but that's okay! Let's ease back in with something light and build from there."
	msgStreak     = "Great streak of %d days! Keep the momentum going with today's workout."
	msgAdjusted   = "Based on your recent activity, today's plan is adjusted to match your current energy and progress."
	msgMotivation = " Remember, every step counts towards your goals!"
)

// UserData is the client side snapshot the coach reply is based on.
type UserData struct {
	EnergyLevel   float64 `json:"energy_level"`
	WorkoutStreak int     `json:"workout_streak"`
	MissedDays    int     `json:"missed_days"`
}

func DefaultUserData() UserData {
	return UserData{
		EnergyLevel:   5,
		WorkoutStreak: 0,
		MissedDays:    0,
	}
}

// Reply picks the canned coach message. The first matching rule wins:
// low energy, then missed days, then streak.
func Reply(data UserData, userMessage string) string {
	var reply string
	switch {
	case data.EnergyLevel < lowEnergyBelow:
		reply = msgRecovery
	case data.MissedDays > missedDaysOver:
		reply = msgEaseBack
	case data.WorkoutStreak >= streakFrom:
		reply = fmt.Sprintf(msgStreak, data.WorkoutStreak)
	default:
		reply = msgAdjusted
	}

	if strings.Contains(strings.ToLower(userMessage), motivationKeyword) {
		reply += msgMotivation
	}
	return reply
}
