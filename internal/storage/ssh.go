package storage

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/poolshare/backend/internal/config"
)

// DialSFTP establishes a new SSH session against the configured backend,
// authenticating with the private key. Host key verification policy is a
// deployment concern; the backend is reached over a private network.
func DialSFTP(cfg config.SFTPConfig) (Session, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.DialTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, err
	}

	return &sshSession{client: client}, nil
}

type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) OpenChannel() (Channel, error) {
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, err
	}
	return &sftpChannel{client: client}, nil
}

func (s *sshSession) IsAlive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *sshSession) Disconnect() {
	_ = s.client.Close()
}

// sftpChannel adapts the stateless sftp client to the channel contract by
// tracking the working directory itself.
type sftpChannel struct {
	client *sftp.Client
	cwd    string
}

func (c *sftpChannel) ChangeDir(dir string) error {
	info, err := c.client.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	c.cwd = dir
	return nil
}

func (c *sftpChannel) MakeDir(dir string) error {
	return c.client.Mkdir(dir)
}

func (c *sftpChannel) Put(filename string, data io.Reader) error {
	target := filename
	if !path.IsAbs(filename) && c.cwd != "" {
		target = path.Join(c.cwd, filename)
	}

	f, err := c.client.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *sftpChannel) Get(remotePath string) (io.ReadCloser, error) {
	return c.client.Open(remotePath)
}

func (c *sftpChannel) Stat(remotePath string) (int64, error) {
	info, err := c.client.Stat(remotePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (c *sftpChannel) Remove(remotePath string) error {
	return c.client.Remove(remotePath)
}

func (c *sftpChannel) Disconnect() {
	_ = c.client.Close()
}
