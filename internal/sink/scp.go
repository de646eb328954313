package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rowjay/app-backup/internal/config"
)

// SCPClient copies files over SSH using the remote scp binary in sink mode.
type SCPClient struct {
	Addr        string
	Config      *ssh.ClientConfig
	DialTimeout time.Duration
}

// NewSCPClient builds a client for the configured destination. Host keys are
// checked against known_hosts unless the insecure option is set.
func NewSCPClient(cfg config.RemoteCopy, dest RemotePath) (*SCPClient, error) {
	home, _ := os.UserHomeDir()
	signer, err := loadSigner(cfg.KeyFile, home)
	if err != nil {
		return nil, err
	}

	var hostKey ssh.HostKeyCallback
	if cfg.InsecureHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		known := cfg.KnownHosts
		if known == "" {
			known = filepath.Join(home, ".ssh", "known_hosts")
		}
		hostKey, err = knownhosts.New(known)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", known, err)
		}
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return &SCPClient{
		Addr: net.JoinHostPort(dest.Host, strconv.Itoa(port)),
		Config: &ssh.ClientConfig{
			User:            dest.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKey,
			Timeout:         cfg.DialTimeout,
		},
		DialTimeout: cfg.DialTimeout,
	}, nil
}

func loadSigner(keyFile, home string) (ssh.Signer, error) {
	candidates := []string{keyFile}
	if keyFile == "" {
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	var errs []error
	for _, p := range candidates {
		pem, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", p, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no usable ssh key: %w", errors.Join(errs...))
}

func (c *SCPClient) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.Addr, c.Config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.Addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Copy creates remoteDir and writes localPath into it.
func (c *SCPClient) Copy(ctx context.Context, localPath, remoteDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	mkdir, err := client.NewSession()
	if err != nil {
		return err
	}
	out, err := mkdir.CombinedOutput("mkdir -p " + shellQuote(remoteDir))
	mkdir.Close()
	if err != nil {
		return fmt.Errorf("mkdir %s: %w: %s", remoteDir, err, strings.TrimSpace(string(out)))
	}

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	if err := session.Start("scp -qt " + shellQuote(remoteDir)); err != nil {
		return err
	}
	if err := writeSCP(stdin, bufio.NewReader(stdout), filepath.Base(localPath), info.Size(), info.Mode(), f); err != nil {
		stdin.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	stdin.Close()
	if err := session.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// writeSCP speaks the sink side of the scp protocol for a single file: the
// remote acknowledges readiness, the C header, and the content.
func writeSCP(w io.Writer, r *bufio.Reader, name string, size int64, mode os.FileMode, content io.Reader) error {
	if err := readAck(r); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "C%04o %d %s\n", mode.Perm(), size, name); err != nil {
		return err
	}
	if err := readAck(r); err != nil {
		return err
	}
	if _, err := io.CopyN(w, content, size); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return readAck(r)
}

func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("scp: read ack: %w", err)
	}
	if b == 0 {
		return nil
	}
	msg, _ := r.ReadString('\n')
	return fmt.Errorf("scp: remote error: %s", strings.TrimSpace(msg))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
