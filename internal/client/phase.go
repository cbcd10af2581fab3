package client

import (
	"sync"

	"github.com/jason-s-yu/quizsync/internal/models"
)

// Outcome tells the caller what an inbound phase message did to the mirror.
type Outcome int

const (
	// Ignored: a duplicate, stale or post-finish message; nothing changed.
	Ignored Outcome = iota
	// Applied: the message was consistent with the mirror and was applied.
	Applied
	// Resync: the message revealed a gap; the caller must fetch a full snapshot.
	Resync
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Resync:
		return "resync"
	}
	return "ignored"
}

// Phase is a point in the session lifecycle as seen by this participant.
type Phase struct {
	Status        models.GameStatus
	QuestionIndex int
}

// PhaseMachine mirrors the server's lobby -> question -> results -> finished
// sequence. It only moves on inbound messages; a snapshot always overrides it.
// In async mode the mirror tracks this player's own progress.
type PhaseMachine struct {
	mu     sync.Mutex
	phase  Phase
	total  int
	closed bool // current question has received question_end
}

func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{phase: Phase{Status: models.StatusLobby, QuestionIndex: models.NoQuestion}}
}

// Current returns the mirrored phase.
func (pm *PhaseMachine) Current() Phase {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.phase
}

// TotalQuestions returns the last known question count, 0 if unknown.
func (pm *PhaseMachine) TotalQuestions() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.total
}

func (pm *PhaseMachine) Finished() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.phase.Status == models.StatusFinished
}

// GameStarted handles game_started.
func (pm *PhaseMachine) GameStarted(index, total int) Outcome {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	switch pm.phase.Status {
	case models.StatusFinished:
		return Ignored
	case models.StatusLobby:
		if total > 0 {
			pm.total = total
		}
		pm.openLocked(index)
		return Applied
	case models.StatusQuestion:
		if pm.phase.QuestionIndex == index {
			return Ignored
		}
	}
	return Resync
}

// QuestionStart handles question_start. Only the next index (or a repeat of
// the current open one) is accepted.
func (pm *PhaseMachine) QuestionStart(index int) Outcome {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.phase.Status == models.StatusFinished {
		return Ignored
	}
	if pm.phase.Status == models.StatusQuestion && index == pm.phase.QuestionIndex {
		return Ignored
	}
	if index != pm.phase.QuestionIndex+1 {
		return Resync
	}
	pm.openLocked(index)
	return Applied
}

// QuestionEnd handles question_end. The status stays question until results.
func (pm *PhaseMachine) QuestionEnd(index int) Outcome {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	switch {
	case pm.phase.Status == models.StatusFinished:
		return Ignored
	case index != pm.phase.QuestionIndex:
		if index < pm.phase.QuestionIndex {
			return Ignored
		}
		return Resync
	case pm.phase.Status == models.StatusQuestion && !pm.closed:
		pm.closed = true
		return Applied
	case pm.phase.Status == models.StatusLobby:
		return Resync
	}
	return Ignored
}

// Results handles results.
func (pm *PhaseMachine) Results(index int) Outcome {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	switch {
	case pm.phase.Status == models.StatusFinished:
		return Ignored
	case index != pm.phase.QuestionIndex:
		if index < pm.phase.QuestionIndex {
			return Ignored
		}
		return Resync
	case pm.phase.Status == models.StatusQuestion:
		pm.phase.Status = models.StatusResults
		pm.closed = true
		return Applied
	case pm.phase.Status == models.StatusLobby:
		return Resync
	}
	return Ignored
}

// GameEnd handles game_end. Finished is terminal.
func (pm *PhaseMachine) GameEnd() Outcome {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.phase.Status == models.StatusFinished {
		return Ignored
	}
	pm.phase.Status = models.StatusFinished
	return Applied
}

// Snapshot overwrites the mirror with authoritative state. It returns Ignored
// when the snapshot matches the mirror or the session already finished.
func (pm *PhaseMachine) Snapshot(status models.GameStatus, index, total int) Outcome {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.phase.Status == models.StatusFinished || !status.Valid() {
		return Ignored
	}
	if total > 0 {
		pm.total = total
	}
	next := Phase{Status: status, QuestionIndex: index}
	if next == pm.phase {
		return Ignored
	}
	if next.QuestionIndex != pm.phase.QuestionIndex {
		pm.closed = false
	}
	if next.Status == models.StatusResults {
		pm.closed = true
	}
	pm.phase = next
	return Applied
}

// TimerApplies reports whether a timer_tick for index belongs to the open
// question. A tick without an index applies to whatever question is open.
func (pm *PhaseMachine) TimerApplies(index *int) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.phase.Status != models.StatusQuestion || pm.closed {
		return false
	}
	return index == nil || *index == pm.phase.QuestionIndex
}

func (pm *PhaseMachine) openLocked(index int) {
	pm.phase = Phase{Status: models.StatusQuestion, QuestionIndex: index}
	pm.closed = false
}
