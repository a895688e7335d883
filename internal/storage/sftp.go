package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/poolshare/backend/internal/config"
	"github.com/poolshare/backend/pkg/logger"
)

// ErrRemoteIO marks connect/channel/transfer failures against the storage
// backend. The core never retries; callers decide.
var ErrRemoteIO = errors.New("remote storage failure")

func remoteErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteIO, op, err)
}

// Remote is what the rest of the application sees of the storage backend.
type Remote interface {
	BaseDir() string
	RemoteDirFor(poolID, userID uuid.UUID) string
	Upload(remoteDir, filename string, data io.ReadCloser) error
	Delete(remotePath string) error
	OpenRead(remotePath string) (ReadHandle, error)
}

// ReadHandle is a remote byte stream whose Close also releases the backend
// resources the stream rides on. Close-ownership belongs to the receiver.
type ReadHandle interface {
	io.ReadCloser
	Length() int64
}

// Gateway moves file bytes to and from the remote backend over pooled
// sessions. One-shot operations (delete, streamed download) use dedicated
// sessions because the session must either outlive the call (download) or
// has no reuse value (delete).
type Gateway struct {
	baseDir string
	pool    *SessionPool
	dial    SessionFactory
}

func NewGateway(cfg config.SFTPConfig) *Gateway {
	dial := func() (Session, error) { return DialSFTP(cfg) }
	return NewGatewayWithFactory(cfg.NormalizedBaseDir(), dial)
}

func NewGatewayWithFactory(baseDir string, dial SessionFactory) *Gateway {
	return &Gateway{
		baseDir: strings.TrimSuffix(baseDir, "/"),
		pool:    NewSessionPool(MaxPoolSize, dial),
		dial:    dial,
	}
}

func (g *Gateway) BaseDir() string {
	return g.baseDir
}

// RemoteDirFor is the directory convention tying bytes to their pool and
// uploader. There is no collision resistance beyond that scoping: same
// user, same pool, same filename means overwrite.
func (g *Gateway) RemoteDirFor(poolID, userID uuid.UUID) string {
	return fmt.Sprintf("%s/pool%s/user%s", g.baseDir, poolID, userID)
}

// EnsureDirectory walks the path segment by segment, creating whatever is
// missing. Repeated calls over an existing path are no-ops beyond the
// change-directory probes.
func EnsureDirectory(ch Channel, absoluteDir string) error {
	path := ""
	for _, part := range strings.Split(absoluteDir, "/") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		path += "/" + part
		if err := ch.ChangeDir(path); err != nil {
			if err := ch.MakeDir(path); err != nil {
				return remoteErr("mkdir "+path, err)
			}
			if err := ch.ChangeDir(path); err != nil {
				return remoteErr("chdir "+path, err)
			}
		}
	}
	return nil
}

// Upload streams data into remoteDir/filename on a pooled session. The
// input is consumed and closed exactly once on every exit path; the session
// goes back to the pool when it survived the transfer.
func (g *Gateway) Upload(remoteDir, filename string, data io.ReadCloser) (err error) {
	defer data.Close()

	session, err := g.pool.Acquire()
	if err != nil {
		return remoteErr("connect", err)
	}
	defer g.pool.Release(session)

	channel, err := session.OpenChannel()
	if err != nil {
		return remoteErr("open channel", err)
	}
	defer channel.Disconnect()

	if err := EnsureDirectory(channel, remoteDir); err != nil {
		return err
	}
	if err := channel.ChangeDir(remoteDir); err != nil {
		return remoteErr("chdir "+remoteDir, err)
	}
	if err := channel.Put(filename, data); err != nil {
		return remoteErr("put "+filename, err)
	}

	logger.Info("storage_upload", map[string]interface{}{
		"remote_dir": remoteDir,
		"filename":   filename,
	})
	return nil
}

// Delete removes remotePath on a dedicated session. A path that is already
// gone counts as success.
func (g *Gateway) Delete(remotePath string) error {
	session, err := g.dial()
	if err != nil {
		return remoteErr("connect", err)
	}
	defer session.Disconnect()

	channel, err := session.OpenChannel()
	if err != nil {
		return remoteErr("open channel", err)
	}
	defer channel.Disconnect()

	if err := channel.Remove(remotePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return remoteErr("remove "+remotePath, err)
	}

	logger.Info("storage_delete", map[string]interface{}{
		"remote_path": remotePath,
	})
	return nil
}

// OpenRead opens remotePath for streaming on a dedicated session and hands
// session, channel and stream over to the caller through the returned
// handle. If anything fails after the channel connected, the gateway tears
// both down before propagating.
func (g *Gateway) OpenRead(remotePath string) (ReadHandle, error) {
	session, err := g.dial()
	if err != nil {
		return nil, remoteErr("connect", err)
	}

	channel, err := session.OpenChannel()
	if err != nil {
		session.Disconnect()
		return nil, remoteErr("open channel", err)
	}

	size, err := channel.Stat(remotePath)
	if err != nil {
		channel.Disconnect()
		session.Disconnect()
		return nil, remoteErr("stat "+remotePath, err)
	}

	stream, err := channel.Get(remotePath)
	if err != nil {
		channel.Disconnect()
		session.Disconnect()
		return nil, remoteErr("get "+remotePath, err)
	}

	return NewRemoteStream(stream, size, channel, session), nil
}

// RemoteStream bundles a remote byte stream with the channel and session it
// rides on. Close releases all three in order (stream, channel, session)
// exactly once.
type RemoteStream struct {
	reader  io.ReadCloser
	length  int64
	channel Channel
	session Session
	once    sync.Once
}

func NewRemoteStream(reader io.ReadCloser, length int64, channel Channel, session Session) *RemoteStream {
	return &RemoteStream{reader: reader, length: length, channel: channel, session: session}
}

func (rs *RemoteStream) Read(p []byte) (int, error) {
	return rs.reader.Read(p)
}

func (rs *RemoteStream) Length() int64 {
	return rs.length
}

func (rs *RemoteStream) Close() error {
	rs.once.Do(func() {
		_ = rs.reader.Close()
		if rs.channel != nil {
			rs.channel.Disconnect()
		}
		if rs.session != nil {
			rs.session.Disconnect()
		}
	})
	return nil
}
