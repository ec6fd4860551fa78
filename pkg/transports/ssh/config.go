package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes a compute host reached over SSH. A non-empty Password
// selects password authentication, otherwise KeyFile is used.
type Config struct {
	Host string
	Port int
	User string

	Password string

	// KeyFile defaults to the first of ~/.ssh/id_ed25519, id_rsa and
	// id_ecdsa that exists.
	KeyFile       string
	KeyPassphrase string

	// KnownHostsFile verifies the host key. Empty accepts any key.
	KnownHostsFile string

	DialTimeout time.Duration

	// KeepAlive is the keep-alive request interval, zero disables it. The
	// connection is dropped after KeepAliveMisses unanswered requests.
	KeepAlive       time.Duration
	KeepAliveMisses int
}

// NewConfig returns key-authenticated settings for user@host:22 verified
// against ~/.ssh/known_hosts.
func NewConfig(host, user string) *Config {
	return &Config{
		Host:            host,
		Port:            22,
		User:            user,
		KnownHostsFile:  filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		DialTimeout:     30 * time.Second,
		KeepAliveMisses: 3,
	}
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the settings and resolves the default key file.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case c.DialTimeout <= 0:
		return errors.New("dial timeout must be positive")
	}

	if c.Password != "" {
		return nil
	}
	if c.KeyFile == "" {
		c.KeyFile = defaultKeyFile()
		if c.KeyFile == "" {
			return errors.New("no password and no private key found in ~/.ssh")
		}
	}
	if _, err := os.Stat(c.KeyFile); err != nil {
		return fmt.Errorf("private key file not found: %s", c.KeyFile)
	}
	return nil
}

func defaultKeyFile() string {
	dir := filepath.Join(os.Getenv("HOME"), ".ssh")
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ClientConfig builds the x/crypto/ssh client configuration.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsFile != "" {
		hostKey, err = knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	if c.Password != "" {
		// Batch systems often only offer keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
	}

	pem, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if c.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.KeyFile, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}
