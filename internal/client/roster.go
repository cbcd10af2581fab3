package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
)

// Roster tracks the connected players. Presence events adjust it
// optimistically; Overwrite replaces it with an authoritative snapshot.
type Roster struct {
	mu      sync.Mutex
	count   int
	order   []uuid.UUID
	players map[uuid.UUID]models.PlayerSummary
}

func NewRoster() *Roster {
	return &Roster{players: make(map[uuid.UUID]models.PlayerSummary)}
}

// Connected applies player_connected and returns the new count. A carried
// player_count is trusted over local arithmetic.
func (r *Roster) Connected(p protocol.PlayerPresence) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.PlayerCount != nil {
		r.count = *p.PlayerCount
	} else {
		r.count++
	}
	if p.PlayerID != uuid.Nil {
		if _, ok := r.players[p.PlayerID]; !ok {
			r.order = append(r.order, p.PlayerID)
		}
		r.players[p.PlayerID] = models.PlayerSummary{ID: p.PlayerID, Nickname: p.Nickname, Avatar: p.Avatar}
	}
	return r.count
}

// Disconnected applies player_disconnected and returns the new count.
func (r *Roster) Disconnected(p protocol.PlayerPresence) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.PlayerCount != nil {
		r.count = *p.PlayerCount
	} else if r.count > 0 {
		r.count--
	}
	if _, ok := r.players[p.PlayerID]; ok {
		delete(r.players, p.PlayerID)
		for i, id := range r.order {
			if id == p.PlayerID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	return r.count
}

// SetCount applies player_count.
func (r *Roster) SetCount(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 0 {
		n = 0
	}
	r.count = n
	return r.count
}

// Overwrite replaces count and list. It never merges with what came before.
func (r *Roster) Overwrite(count int, players []models.PlayerSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = count
	r.order = make([]uuid.UUID, 0, len(players))
	r.players = make(map[uuid.UUID]models.PlayerSummary, len(players))
	for _, p := range players {
		if _, dup := r.players[p.ID]; !dup {
			r.order = append(r.order, p.ID)
		}
		r.players[p.ID] = p
	}
}

func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Players returns the known players in arrival order.
func (r *Roster) Players() []models.PlayerSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PlayerSummary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}
