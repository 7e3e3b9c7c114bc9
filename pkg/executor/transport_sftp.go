package executor

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type sftpTransport struct {
	ssh    *ssh.Client
	client *sftp.Client
}

func dialSFTP(ctx context.Context, t Target) (Transport, error) {
	config := &ssh.ClientConfig{
		User: t.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.Password),
		},
		// Shared hosting panels rarely publish host keys up front.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, t.Addr(), config)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return &sftpTransport{ssh: client, client: sc}, nil
}

func (s *sftpTransport) MakeDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.MkdirAll(dir)
}

func (s *sftpTransport) Upload(ctx context.Context, remotePath string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}
	f, err := s.client.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *sftpTransport) Close() error {
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}
