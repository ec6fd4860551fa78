package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH connection to a single host. It is safe for concurrent
// use; each Run opens its own session.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu          sync.RWMutex
	client      *ssh.Client
	connectedAt time.Time
	stopKeep    chan struct{}
}

var _ Transport = (*Client)(nil)

// NewClient creates a client for the given configuration. It does not connect.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SSH config: %w", err)
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}, nil
}

// Connect dials the host and performs the SSH handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	sshConfig, err := c.config.ClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address())
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.config.Address(), sshConfig)
	if err != nil {
		conn.Close()
		return &TransportError{
			Op:          "handshake",
			Err:         err,
			IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
		}
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.connectedAt = time.Now()

	if c.config.KeepAlive > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.client, c.stopKeep)
	}

	c.logger.Debug().Msg("connected")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}

	err := c.client.Close()
	c.client = nil
	c.logger.Debug().Dur("connected_for", time.Since(c.connectedAt)).Msg("disconnected")
	return err
}

// IsConnected reports whether the client holds a connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// HealthCheck runs a trivial command to verify the connection works.
func (c *Client) HealthCheck(ctx context.Context) error {
	result, err := c.Run(ctx, "echo ok")
	if err != nil {
		return err
	}
	if strings.TrimSpace(result.Stdout) != "ok" {
		return &TransportError{Op: "health", Err: fmt.Errorf("unexpected output %q", result.Stdout)}
	}
	return nil
}

// Run executes cmd in a new session. When ctx is done the remote process is
// signalled and the session closed.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(cmd); err != nil {
		return nil, &TransportError{Op: "exec", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case err = <-done:
		case <-time.After(2 * time.Second):
			_ = session.Signal(ssh.SIGKILL)
			session.Close()
			err = <-done
		}
		if err == nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:  "exec",
			Err: fmt.Errorf("command exited with code %d", result.ExitCode),
		}
	}

	result.ExitCode = -1
	var missing *ssh.ExitMissingError
	return result, &TransportError{Op: "exec", Err: err, IsTemporary: errors.As(err, &missing)}
}

func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.logger.Warn().Err(err).Int("failures", failures).Msg("keep-alive failed")
			if failures >= c.config.KeepAliveMisses {
				c.logger.Error().Msg("connection lost")
				client.Close()
				return
			}
		}
	}
}
