package executor

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// spaRewrite sends every request for a missing file to index.html so
// client-side routes survive a reload.
const spaRewrite = `RewriteEngine On
RewriteBase /
RewriteRule ^index\.html$ - [L]
RewriteCond %{REQUEST_FILENAME} !-f
RewriteCond %{REQUEST_FILENAME} !-d
RewriteCond %{REQUEST_FILENAME} !-l
RewriteRule . /index.html [L]
`

// Transport is one authenticated file session on a remote host.
type Transport interface {
	MakeDir(ctx context.Context, dir string) error
	Upload(ctx context.Context, remotePath string, r io.Reader) error
	Close() error
}

// Target is where and how to connect for an Apache deploy.
type Target struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool
	Root     string
}

func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// DialFunc opens a Transport for t.
type DialFunc func(ctx context.Context, t Target) (Transport, error)

// TargetFromCredentials reads the ftp credential form.
func TargetFromCredentials(creds map[string]string) (Target, error) {
	t := Target{
		Protocol: strings.ToLower(strings.TrimSpace(creds["protocol"])),
		Host:     strings.TrimSpace(creds["host"]),
		Username: creds["username"],
		Password: creds["password"],
		Root:     strings.TrimSpace(creds["path"]),
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("host is required")
	}
	if t.Protocol == "" {
		t.Protocol = "ftp"
	}
	if t.Protocol != "ftp" && t.Protocol != "sftp" {
		return Target{}, fmt.Errorf("unsupported protocol %q (expected ftp or sftp)", t.Protocol)
	}
	if t.Root == "" {
		t.Root = "/public_html"
	}
	if s := strings.TrimSpace(creds["secure"]); s != "" {
		secure, err := strconv.ParseBool(s)
		if err != nil {
			return Target{}, fmt.Errorf("secure: %w", err)
		}
		t.Secure = secure
	}
	if p := strings.TrimSpace(creds["port"]); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("invalid port %q", p)
		}
		t.Port = port
	} else if t.Protocol == "sftp" {
		t.Port = 22
	} else {
		t.Port = 21
	}
	return t, nil
}

// DialTarget picks the transport matching t.Protocol.
func DialTarget(ctx context.Context, t Target) (Transport, error) {
	if t.Protocol == "sftp" {
		return dialSFTP(ctx, t)
	}
	return dialFTP(ctx, t)
}

// Apache uploads a static build to a host serving files over FTP(S) or SFTP.
type Apache struct {
	dial    DialFunc
	tempDir string
}

// NewApache returns the Apache executor. A nil dial uses DialTarget.
func NewApache(dial DialFunc) *Apache {
	if dial == nil {
		dial = DialTarget
	}
	return &Apache{dial: dial}
}

func (a *Apache) Deploy(ctx context.Context, req Request) (err error) {
	id := req.Descriptor.ID
	if req.Config.AuthResult == nil {
		return &DeploymentError{Platform: id, Kind: KindConfiguration, Err: fmt.Errorf("missing ftp credentials")}
	}
	target, err := TargetFromCredentials(req.Config.AuthResult.Credentials)
	if err != nil {
		return &DeploymentError{Platform: id, Kind: KindConfiguration, Err: err}
	}

	req.logf("⏳ Connecting to %s over %s...\n", target.Addr(), strings.ToUpper(target.Protocol))
	conn, err := a.dial(ctx, target)
	if err != nil {
		return &DeploymentError{Platform: id, Kind: KindAuthFailure, Err: err}
	}
	req.logf("✅ Connected as %s\n", target.Username)

	uploaded := 0
	defer func() {
		cerr := conn.Close()
		if cerr != nil && err == nil {
			err = &DeploymentError{Platform: id, Kind: KindTransferFailure, Uploaded: uploaded, Err: fmt.Errorf("close session: %w", cerr)}
		}
	}()

	req.logf("⏳ Uploading %s to %s...\n", req.ArtifactDir, target.Root)
	uploaded, err = uploadTree(ctx, conn, req.ArtifactDir, target.Root)
	if err != nil {
		return &DeploymentError{Platform: id, Kind: KindTransferFailure, Uploaded: uploaded, Err: err}
	}
	req.logf("✅ Uploaded %d file(s)\n", uploaded)

	if err := a.uploadRewrite(ctx, conn, target.Root); err != nil {
		return &DeploymentError{Platform: id, Kind: KindTransferFailure, Uploaded: uploaded, Err: fmt.Errorf(".htaccess: %w", err)}
	}
	req.logf("✅ Routing rules written to %s\n", path.Join(target.Root, ".htaccess"))
	return nil
}

func uploadTree(ctx context.Context, conn Transport, localRoot, remoteRoot string) (int, error) {
	if err := conn.MakeDir(ctx, remoteRoot); err != nil {
		return 0, fmt.Errorf("create %s: %w", remoteRoot, err)
	}
	uploaded := 0
	err := filepath.WalkDir(localRoot, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		remote := path.Join(remoteRoot, filepath.ToSlash(rel))
		if entry.IsDir() {
			if err := conn.MakeDir(ctx, remote); err != nil {
				return fmt.Errorf("create %s: %w", remote, err)
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := conn.Upload(ctx, remote, f); err != nil {
			return fmt.Errorf("upload %s: %w", remote, err)
		}
		uploaded++
		return nil
	})
	return uploaded, err
}

func (a *Apache) uploadRewrite(ctx context.Context, conn Transport, remoteRoot string) error {
	tmp, err := os.CreateTemp(a.tempDir, "htaccess-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.WriteString(spaRewrite); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return conn.Upload(ctx, path.Join(remoteRoot, ".htaccess"), tmp)
}
