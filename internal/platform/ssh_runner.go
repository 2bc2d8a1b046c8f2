package platform

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes a remote target, typically a Linux router.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Timeout  time.Duration
}

// SSHRunner runs commands on a remote host over one SSH connection.
type SSHRunner struct {
	client *ssh.Client
	host   string
}

// DialSSH connects with key and/or password authentication.
func DialSSH(cfg SSHConfig) (*SSHRunner, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		pem, err := os.ReadFile(expandHome(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("reading SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing SSH key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh %s: no key or password configured", cfg.Host)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts
		Timeout:         timeout,
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return &SSHRunner{client: client, host: cfg.Host}, nil
}

// Close shuts down the SSH connection.
func (s *SSHRunner) Close() error { return s.client.Close() }

// Run executes the command line remotely. The session is closed when ctx
// ends, which aborts the remote command.
func (s *SSHRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return s.exec(ctx, commandLine(name, args), nil)
}

// ReadFile cats path on the remote host.
func (s *SSHRunner) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, err := s.exec(ctx, "cat "+shellQuote(path), nil)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// WriteFile streams data into path on the remote host.
func (s *SSHRunner) WriteFile(ctx context.Context, path string, data []byte) error {
	_, err := s.exec(ctx, "cat > "+shellQuote(path), data)
	return err
}

// Local implements Runner.
func (s *SSHRunner) Local() bool { return false }

func (s *SSHRunner) exec(ctx context.Context, cmd string, stdin []byte) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCommandTimeout)
		defer cancel()
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh %s: new session: %w", s.host, err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("ssh %s [%s]: %w", s.host, cmd, err)
		}
		return out.String(), nil
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return out.String(), fmt.Errorf("ssh %s [%s]: %w", s.host, cmd, ctx.Err())
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}
