package app

import (
	"sync"
	"time"
)

// runtime is the per-process mutable state for the session currently on air:
// which session is active, when each question was broadcast, which players
// currently have each option selected, and the armed close timers.
//
// The mutex serializes the whole submit path including its persistence calls,
// so two revisions from the same player (or a submission racing the close
// deadline) can never interleave.
type runtime struct {
	mu  sync.Mutex
	now func() time.Time

	activeSession string
	broadcastAt   map[string]int64                  // question id -> unix ms
	respondents   map[string]map[string]struct{}    // option id -> player ids
	closeTimers   map[string]*time.Timer

	// rowlessAwards remembers points granted by submissions that persisted no
	// response rows (an empty selection matching an empty correct set), keyed
	// by question id + player id, so a later resubmission still reverts them.
	rowlessAwards map[string]int
}

func newRuntime(now func() time.Time) *runtime {
	return &runtime{
		now:           now,
		broadcastAt:   make(map[string]int64),
		respondents:   make(map[string]map[string]struct{}),
		closeTimers:   make(map[string]*time.Timer),
		rowlessAwards: make(map[string]int),
	}
}

func (rt *runtime) addRespondentLocked(optionID, playerID string) {
	if set, ok := rt.respondents[optionID]; ok {
		set[playerID] = struct{}{}
	}
}

func (rt *runtime) removeRespondentLocked(optionID, playerID string) {
	if set, ok := rt.respondents[optionID]; ok {
		delete(set, playerID)
	}
}

func (rt *runtime) removeEverywhereLocked(playerID string) {
	for _, set := range rt.respondents {
		delete(set, playerID)
	}
}

// resetLocked clears all live state at session end.
func (rt *runtime) resetLocked() {
	rt.activeSession = ""
	rt.broadcastAt = make(map[string]int64)
	rt.respondents = make(map[string]map[string]struct{})
	rt.rowlessAwards = make(map[string]int)
	for id, timer := range rt.closeTimers {
		timer.Stop()
		delete(rt.closeTimers, id)
	}
}
