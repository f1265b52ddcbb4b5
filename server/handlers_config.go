package server

import (
	"net/http"
)

// HandleConfig returns the effective scheduler options. Secrets are never
// part of this view.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c := h.deps.Scheduler
	writeJSON(w, http.StatusOK, map[string]any{
		"vip_queue_priority":          c.VIPQueuePriority,
		"message_timeout_seconds":     c.MessageTimeout.Seconds(),
		"recent_message_keep_count":   c.RecentMessageKeepCount,
		"enable_old_message_cleanup":  c.EnableOldMessageCleanup,
		"enable_message_interruption": c.EnableMessageInterruption,
		"debounce_timeout_seconds":    c.DebounceTimeout.Seconds(),
		"interest_decay_factor":       c.InterestDecayFactor,
		"chars_per_second":            c.CharsPerSecond,
		"min_typing_delay":            c.MinTypingDelay.Seconds(),
		"max_typing_delay":            c.MaxTypingDelay.Seconds(),
		"enable_dynamic_typing_delay": c.EnableDynamicTypingDelay,
		"fixed_typing_delay":          c.FixedTypingDelay.Seconds(),
		"generation_timeout_seconds":  c.GenerationTimeout.Seconds(),
		"session_idle_timeout":        c.SessionIdleTimeout.Seconds(),
	})
}

// HandleStatus returns a lightweight summary across all sessions.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snaps := h.deps.Manager.Snapshots()
	var vip, normal, pending, active, paused int
	for _, s := range snaps {
		vip += s.VIPQueued
		normal += s.NormalQueued
		pending += s.PendingGifts
		if s.Active != nil {
			active++
		}
		if s.Paused {
			paused++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"sessions":      len(snaps),
		"vip_queued":    vip,
		"normal_queued": normal,
		"pending_gifts": pending,
		"active_tasks":  active,
		"paused":        paused,
	})
}
