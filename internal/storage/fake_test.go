package storage

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
)

// fakeBackend is an in-memory stand-in for the remote server. All sessions
// and channels created against it share one file tree, so uploads made on
// one session are visible to downloads on another.
type fakeBackend struct {
	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string][]byte
	dialed   int
	sessions []*fakeSession
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
	}
}

func (b *fakeBackend) factory() SessionFactory {
	return func() (Session, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dialed++
		session := &fakeSession{backend: b, alive: true}
		b.sessions = append(b.sessions, session)
		return session, nil
	}
}

func (b *fakeBackend) openSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := 0
	for _, s := range b.sessions {
		if !s.disconnected {
			open++
		}
	}
	return open
}

type fakeSession struct {
	backend      *fakeBackend
	alive        bool
	disconnected bool
	channels     []*fakeChannel
}

func (s *fakeSession) OpenChannel() (Channel, error) {
	ch := &fakeChannel{backend: s.backend, cwd: "/"}
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *fakeSession) IsAlive() bool { return s.alive && !s.disconnected }

func (s *fakeSession) Disconnect() { s.disconnected = true }

type fakeChannel struct {
	backend      *fakeBackend
	cwd          string
	disconnected bool
}

func (c *fakeChannel) ChangeDir(path string) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if !c.backend.dirs[path] {
		return fmt.Errorf("chdir %s: %w", path, fs.ErrNotExist)
	}
	c.cwd = path
	return nil
}

func (c *fakeChannel) MakeDir(path string) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.dirs[path] = true
	return nil
}

func (c *fakeChannel) Put(filename string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.files[c.resolve(filename)] = content
	return nil
}

func (c *fakeChannel) Get(path string) (io.ReadCloser, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	content, ok := c.backend.files[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (c *fakeChannel) Stat(path string) (int64, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	content, ok := c.backend.files[path]
	if !ok {
		return 0, fmt.Errorf("stat %s: %w", path, fs.ErrNotExist)
	}
	return int64(len(content)), nil
}

func (c *fakeChannel) Remove(path string) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if _, ok := c.backend.files[path]; !ok {
		return fmt.Errorf("remove %s: %w", path, fs.ErrNotExist)
	}
	delete(c.backend.files, path)
	return nil
}

func (c *fakeChannel) Disconnect() { c.disconnected = true }

func (c *fakeChannel) resolve(filename string) string {
	if strings.HasPrefix(filename, "/") {
		return filename
	}
	return strings.TrimSuffix(c.cwd, "/") + "/" + filename
}
