// internal/protocol/messages.go
package protocol

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
)

// Connected is the first frame on every new connection.
type Connected struct {
	GameID        uuid.UUID   `json:"game_id"`
	ParticipantID uuid.UUID   `json:"participant_id"`
	Role          models.Role `json:"role"`
}

// GameState is a full authoritative snapshot. For a participant with an open
// question it also carries the question and the seconds left on it.
type GameState struct {
	models.Snapshot
	Question      *models.QuestionSnapshot `json:"question,omitempty"`
	TimeRemaining *int                     `json:"time_remaining,omitempty"`
}

type GameStarted struct {
	QuestionIndex  int             `json:"question_index"`
	TotalQuestions int             `json:"total_questions"`
	SyncMode       models.SyncMode `json:"sync_mode"`
}

type QuestionStart struct {
	QuestionIndex int                     `json:"question_index"`
	Question      models.QuestionSnapshot `json:"question"`
}

type QuestionEnd struct {
	QuestionIndex int `json:"question_index"`
	CorrectOption int `json:"correct_option"`
}

type Results struct {
	QuestionIndex int               `json:"question_index"`
	Leaderboard   []models.Standing `json:"leaderboard"`
}

type GameEnd struct {
	Leaderboard []models.Standing `json:"leaderboard"`
	Reason      string            `json:"reason,omitempty"`
}

// TimerTick carries the seconds left under either "remaining" or
// "time_remaining"; older servers send only one of them.
type TimerTick struct {
	QuestionIndex *int `json:"question_index,omitempty"`
	Remaining     *int `json:"remaining,omitempty"`
	TimeRemaining *int `json:"time_remaining,omitempty"`
}

// NewTimerTick fills both field names.
func NewTimerTick(questionIndex, seconds int) TimerTick {
	idx, s1, s2 := questionIndex, seconds, seconds
	return TimerTick{QuestionIndex: &idx, Remaining: &s1, TimeRemaining: &s2}
}

// Seconds returns the remaining time, preferring time_remaining when both are set.
func (t TimerTick) Seconds() (int, bool) {
	switch {
	case t.TimeRemaining != nil:
		return *t.TimeRemaining, true
	case t.Remaining != nil:
		return *t.Remaining, true
	}
	return 0, false
}

// PlayerPresence is sent for player_connected / player_disconnected and their aliases.
type PlayerPresence struct {
	PlayerID    uuid.UUID `json:"player_id"`
	Nickname    string    `json:"nickname,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	PlayerCount *int      `json:"player_count,omitempty"`
}

type PlayerCount struct {
	PlayerCount int `json:"player_count"`
}

type Error struct {
	Message string `json:"message"`
}

// Answer is the player's command frame for one question.
type Answer struct {
	QuestionIndex int `json:"question_index"`
	Option        int `json:"option"`
}
