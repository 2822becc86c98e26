package browser

import (
	"sync"
	"time"
)

// Session is one browser process with a single active page.
//
// Metadata is guarded by mu and may be read at any time. The page is only
// touched while the action lock is held.
type Session struct {
	id      string
	process Process
	page    Page
	lock    actionLock

	mu             sync.RWMutex
	status         Status
	createdAt      time.Time
	lastActivityAt time.Time
	currentURL     string

	releaseOnce sync.Once
	releaseErr  error
	released    chan struct{}
}

func newSession(id string, proc Process, now time.Time) *Session {
	return &Session{
		id:             id,
		process:        proc,
		page:           proc.Page(),
		status:         StatusActive,
		createdAt:      now,
		lastActivityAt: now,
		currentURL:     BlankURL,
		released:       make(chan struct{}),
	}
}

// ID returns the caller-supplied session id.
func (s *Session) ID() string {
	return s.id
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CreatedAt returns when the process was provisioned.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastActivityAt returns the time of the last action that reached the page.
func (s *Session) LastActivityAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// CurrentURL returns the last observed navigation target.
func (s *Session) CurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentURL
}

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	return s.Status() == StatusClosed
}

// Summary returns a snapshot of the session metadata.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:             s.id,
		Status:         s.status,
		URL:            s.currentURL,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// touch records activity and revives an idle session.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	if now.After(s.lastActivityAt) {
		s.lastActivityAt = now
	}
	s.status = StatusActive
}

func (s *Session) setURL(url string) {
	if url == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = url
}

// markIdle flips an active session to idle if it has been inactive since
// before cutoff. Returns true on transition.
func (s *Session) markIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive || !s.lastActivityAt.Before(cutoff) {
		return false
	}
	s.status = StatusIdle
	return true
}

// markClosed moves the session to its terminal state. Only the first caller
// gets true and is responsible for releasing the process.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return false
	}
	s.status = StatusClosed
	return true
}

// release closes the browser process exactly once.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.process.Close()
		close(s.released)
	})
	return s.releaseErr
}

// isReleased reports whether the process has been closed.
func (s *Session) isReleased() bool {
	select {
	case <-s.released:
		return true
	default:
		return false
	}
}
