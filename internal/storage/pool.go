package storage

import (
	"io"
	"sync"
)

// MaxPoolSize bounds how many idle sessions the pool keeps warm.
const MaxPoolSize = 5

// Session is one live connection to the storage backend.
type Session interface {
	// OpenChannel opens a transfer-capable sub-connection on the session.
	OpenChannel() (Channel, error)
	// IsAlive reports whether the session can still carry traffic.
	IsAlive() bool
	Disconnect()
}

// Channel is the transfer surface of a session. Path-taking operations use
// absolute remote paths; Put resolves its filename against the directory
// set by the last successful ChangeDir. Operations on a missing path report
// it with an error satisfying errors.Is(err, fs.ErrNotExist).
type Channel interface {
	ChangeDir(path string) error
	MakeDir(path string) error
	Put(filename string, data io.Reader) error
	Get(path string) (io.ReadCloser, error)
	Stat(path string) (int64, error)
	Remove(path string) error
	Disconnect()
}

// SessionFactory establishes a brand-new session.
type SessionFactory func() (Session, error)

// SessionPool is a bounded cache of reusable sessions, not a semaphore:
// Acquire never blocks; when nothing is queued it dials fresh, so the
// bound limits warm idle sessions, never transfer concurrency.
type SessionPool struct {
	mu       sync.Mutex
	idle     []Session
	capacity int
	dial     SessionFactory
}

func NewSessionPool(capacity int, dial SessionFactory) *SessionPool {
	if capacity <= 0 {
		capacity = MaxPoolSize
	}
	return &SessionPool{capacity: capacity, dial: dial}
}

// Acquire pops an idle session if one is still alive, discarding dead ones,
// and falls back to dialing a new session.
func (p *SessionPool) Acquire() (Session, error) {
	for {
		p.mu.Lock()
		if len(p.idle) == 0 {
			p.mu.Unlock()
			return p.dial()
		}
		session := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if session.IsAlive() {
			return session, nil
		}
		session.Disconnect()
	}
}

// Release returns a still-alive session to the cache, or tears it down when
// the cache is full or the session died.
func (p *SessionPool) Release(session Session) {
	if session == nil {
		return
	}
	if !session.IsAlive() {
		session.Disconnect()
		return
	}

	p.mu.Lock()
	if len(p.idle) < p.capacity {
		p.idle = append(p.idle, session)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	session.Disconnect()
}

// IdleCount reports how many sessions are currently queued.
func (p *SessionPool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
