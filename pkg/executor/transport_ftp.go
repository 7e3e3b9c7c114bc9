package executor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
)

const dialTimeout = 30 * time.Second

type ftpTransport struct {
	conn *ftp.ServerConn
}

func dialFTP(ctx context.Context, t Target) (Transport, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(dialTimeout),
	}
	if t.Secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: t.Host}))
	}

	conn, err := ftp.Dial(t.Addr(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	if err := conn.Login(t.Username, t.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login rejected: %w", err)
	}
	return &ftpTransport{conn: conn}, nil
}

// MakeDir treats "already exists" replies as success.
func (f *ftpTransport) MakeDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := f.conn.MakeDir(dir)
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code == ftp.StatusFileUnavailable {
		return nil
	}
	return err
}

func (f *ftpTransport) Upload(ctx context.Context, remotePath string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.conn.Stor(remotePath, r)
}

func (f *ftpTransport) Close() error {
	return f.conn.Quit()
}
