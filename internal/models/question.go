package models

// Question is a quiz question as stored. CorrectOption never leaves the server
// inside a QuestionSnapshot.
type Question struct {
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	TimeLimitSec  int      `json:"time_limit"`
	Points        int      `json:"points"`
}

// QuestionSnapshot is what players receive when a question opens.
type QuestionSnapshot struct {
	Index        int      `json:"index"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	TimeLimitSec int      `json:"time_limit"`
	Points       int      `json:"points"`
}

// Snapshot builds the player-facing view of q at ordinal index.
func (q Question) Snapshot(index int) QuestionSnapshot {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return QuestionSnapshot{
		Index:        index,
		Prompt:       q.Prompt,
		Options:      opts,
		TimeLimitSec: q.TimeLimitSec,
		Points:       q.Points,
	}
}
