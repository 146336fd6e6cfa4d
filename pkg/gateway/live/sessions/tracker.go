// Package sessions tracks the live simulation sessions of one server process
// so shutdown can stop them and wait for their scoring to finish.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker can do to a live session.
type Handle struct {
	// Stop asks the session bridge to finalize. Must be safe to call more
	// than once.
	Stop func()
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

// Tracker is a registry of live sessions keyed by session id. The zero value
// is not usable; call NewTracker.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*trackedSession)}
}

// Register adds a session and returns its unregister func. Registering the
// same id again stops and replaces the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Stop != nil {
			old.handle.Stop()
		}
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count reports how many sessions are live.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// StopAll asks every live session to finalize. It does not wait.
func (t *Tracker) StopAll() (stopped int) {
	if t == nil {
		return 0
	}

	var stops []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Stop == nil {
			continue
		}
		stops = append(stops, entry.handle.Stop)
	}
	t.mu.Unlock()

	for _, stop := range stops {
		stop()
		stopped++
	}
	return stopped
}

// Wait blocks until every registered session has unregistered or ctx is
// done. It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
