// Package sshtest provides an in-process SSH server for tests. It accepts
// exec requests, running them with the local shell, and the sftp subsystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Credentials accepted by the server. Any public key is accepted for User.
const (
	User     = "testuser"
	Password = "testpass"
)

// Server is a running test SSH server listening on the loopback interface.
type Server struct {
	Host string
	Port int

	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.Signer
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
}

// NewServer starts a server and stops it when the test finishes.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("sshtest: generate host key: %v", err)
	}
	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		tb.Fatalf("sshtest: host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == User && string(pass) == Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, _ ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == User {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("sshtest: listen: %v", err)
	}

	addr := listener.Addr().(*net.TCPAddr)
	s := &Server{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		listener: listener,
		config:   config,
		hostKey:  hostKey,
	}

	s.wg.Add(1)
	go s.serve()
	tb.Cleanup(s.Close)

	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Commands returns the exec commands received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops accepting connections and waits for the accept loop.
func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

// WriteKnownHosts writes a known_hosts file trusting the server's host key
// and returns its path.
func (s *Server) WriteKnownHosts(tb testing.TB) string {
	tb.Helper()
	line := knownhosts.Line([]string{knownhosts.Normalize(s.Addr())}, s.hostKey.PublicKey())
	path := filepath.Join(tb.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		tb.Fatalf("sshtest: write known_hosts: %v", err)
	}
	return path
}

// WriteClientKey writes an unencrypted OpenSSH private key and returns its path.
func WriteClientKey(tb testing.TB) string {
	tb.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("sshtest: generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		tb.Fatalf("sshtest: marshal client key: %v", err)
	}
	path := filepath.Join(tb.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		tb.Fatalf("sshtest: write client key: %v", err)
	}
	return path
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(req.Type == "keepalive@openssh.com", nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var (
		mu  sync.Mutex
		cmd *exec.Cmd
	)

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			c := exec.Command("sh", "-c", payload.Command)
			c.Stdout = ch
			c.Stderr = ch.Stderr()
			c.WaitDelay = time.Second
			if err := c.Start(); err != nil {
				req.Reply(false, nil)
				continue
			}
			mu.Lock()
			cmd = c
			mu.Unlock()
			req.Reply(true, nil)

			go func() {
				status := uint32(0)
				if err := c.Wait(); err != nil {
					var exitErr *exec.ExitError
					status = 255
					if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
						status = uint32(exitErr.ExitCode())
					}
				}
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}()

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err == nil {
					server.Serve()
					server.Close()
				}
				ch.Close()
			}()

		case "signal":
			mu.Lock()
			if cmd != nil && cmd.Process != nil {
				cmd.Process.Signal(syscall.SIGTERM)
			}
			mu.Unlock()
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}
