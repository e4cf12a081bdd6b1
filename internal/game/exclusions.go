package game

import (
	"strings"
	"sync"
)

// Exclusions is the process-wide, append-only list of secret titles already
// used. It is created once at startup and is only reset by restarting the
// process.
type Exclusions struct {
	mu     sync.RWMutex
	titles []string
}

func NewExclusions(seed ...string) *Exclusions {
	x := &Exclusions{}
	for _, t := range seed {
		x.Claim(t)
	}
	return x
}

// Titles returns a copy in insertion order.
func (x *Exclusions) Titles() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string(nil), x.titles...)
}

// Claim appends title and reports true unless it is blank or already
// present (case-insensitive). The check and the append happen under one lock,
// so concurrent claims of the same title have exactly one winner.
func (x *Exclusions) Claim(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.containsLocked(title) {
		return false
	}
	x.titles = append(x.titles, title)
	return true
}

func (x *Exclusions) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.titles)
}

func (x *Exclusions) containsLocked(title string) bool {
	for _, t := range x.titles {
		if strings.EqualFold(t, title) {
			return true
		}
	}
	return false
}
