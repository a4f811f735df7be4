// Package sizing computes capital allocation for individual trades from a
// rolling window of recent outcomes, using a fractional Kelly criterion with
// layered safety adjustments.
package sizing

import (
	"sync"
	"time"
)

// HistoryCapacity bounds the in-process trade window. Older entries are
// evicted; the authoritative trade record lives in the persistence layer.
const HistoryCapacity = 1000

// TradeHistoryEntry is one observed trade outcome.
type TradeHistoryEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy"`
	ProfitUSD  float64   `json:"profit_usd"`
	GasUSD     float64   `json:"gas_usd"`
	Successful bool      `json:"successful"`
}

// tradeHistory is a fixed-capacity ring. Writes overwrite the oldest entry
// once the window is full.
type tradeHistory struct {
	mu      sync.RWMutex
	entries []TradeHistoryEntry
	next    int
	full    bool
}

func newTradeHistory(capacity int) *tradeHistory {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &tradeHistory{entries: make([]TradeHistoryEntry, capacity)}
}

func (h *tradeHistory) add(entry TradeHistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = entry
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// snapshot returns the window in chronological order, oldest first.
func (h *tradeHistory) snapshot() []TradeHistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]TradeHistoryEntry, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]TradeHistoryEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}

func (h *tradeHistory) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}
