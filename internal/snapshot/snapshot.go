// Package snapshot keeps the latest state of every monitor for the live
// status view.
package snapshot

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"uptime-incident-engine/internal/monitor"
)

// Snapshot is the read-only view used by the API.
type Snapshot struct {
	All  []StateDTO
	ByID map[string]StateDTO
}

// StateDTO is what the API exposes per monitor.
type StateDTO struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Target      string         `json:"target"`
	Status      monitor.Status `json:"status"`
	Up          bool           `json:"up"`
	LastChecked string         `json:"last_checked,omitempty"`
	LatencyMs   *int           `json:"latency_ms"`
	LastError   string         `json:"last_error,omitempty"`

	ConsecutiveFail int `json:"consecutive_fail"`
}

// Board implements monitor.StatusBoard. Writers rebuild the snapshot under
// a mutex; readers load it without locking.
type Board struct {
	mu      sync.Mutex
	states  map[string]StateDTO
	current atomic.Value // stores Snapshot
}

var _ monitor.StatusBoard = (*Board)(nil)

func NewBoard() *Board {
	return &Board{states: make(map[string]StateDTO)}
}

// Load seeds the board, typically with every stored monitor at startup so
// the view survives restarts.
func (b *Board) Load(monitors []monitor.Monitor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range monitors {
		b.states[m.ID] = toDTO(m)
	}
	b.publishLocked()
}

// Publish replaces the state of one monitor.
func (b *Board) Publish(m monitor.Monitor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[m.ID] = toDTO(m)
	b.publishLocked()
}

func (b *Board) Remove(monitorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.states[monitorID]; !ok {
		return
	}
	delete(b.states, monitorID)
	b.publishLocked()
}

// Get returns the latest snapshot.
// If nothing was published yet, returns zero-value snapshot.
func (b *Board) Get() Snapshot {
	if v := b.current.Load(); v != nil {
		return v.(Snapshot)
	}
	return Snapshot{}
}

func (b *Board) publishLocked() {
	all := make([]StateDTO, 0, len(b.states))
	byID := make(map[string]StateDTO, len(b.states))
	for id, dto := range b.states {
		all = append(all, dto)
		byID[id] = dto
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})
	b.current.Store(Snapshot{All: all, ByID: byID})
}

func toDTO(m monitor.Monitor) StateDTO {
	dto := StateDTO{
		ID:              m.ID,
		WorkspaceID:     m.WorkspaceID,
		Name:            m.Name,
		Target:          m.Target(),
		Status:          m.CurrentStatus,
		Up:              m.CurrentStatus == monitor.StatusUp,
		LatencyMs:       m.LastResponseTimeMs,
		LastError:       m.LastErrorMessage,
		ConsecutiveFail: m.ConsecutiveFailures,
	}
	if m.LastCheckAt != nil {
		dto.LastChecked = m.LastCheckAt.UTC().Format(time.RFC3339)
	}
	return dto
}
