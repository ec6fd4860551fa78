package ssh

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/histmatch/pkg/transports/ssh/sshtest"
)

func TestNewConfig(t *testing.T) {
	c := NewConfig("compute01", "hm")
	if c.Address() != "compute01:22" {
		t.Errorf("unexpected address %s", c.Address())
	}
	if c.Password != "" || c.KeepAlive != 0 || c.DialTimeout <= 0 {
		t.Errorf("unexpected defaults %+v", c)
	}
	if !strings.HasSuffix(c.KnownHostsFile, filepath.Join(".ssh", "known_hosts")) {
		t.Errorf("expected the user's known_hosts, got %s", c.KnownHostsFile)
	}

	c.Host = "::1"
	c.Port = 2222
	if c.Address() != "[::1]:2222" {
		t.Errorf("unexpected IPv6 address %s", c.Address())
	}
}

func TestConfig_Validate(t *testing.T) {
	keyFile := sshtest.WriteClientKey(t)
	// No default keys to fall back on.
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "password", modify: func(c *Config) { c.Password = "secret" }},
		{name: "key file", modify: func(c *Config) { c.KeyFile = keyFile }},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "port out of range", modify: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		{name: "missing user", modify: func(c *Config) { c.User = "" }, wantErr: "user is required"},
		{name: "no credentials", modify: func(*Config) {}, wantErr: "no password and no private key"},
		{name: "missing key file", modify: func(c *Config) { c.KeyFile = "/nonexistent/id_rsa" }, wantErr: "private key file not found"},
		{
			name:    "zero dial timeout",
			modify:  func(c *Config) { c.Password = "secret"; c.DialTimeout = 0 },
			wantErr: "dial timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig("compute01", "hm")
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ClientConfig(t *testing.T) {
	t.Run("password also answers keyboard-interactive", func(t *testing.T) {
		c := NewConfig("compute01", "hm")
		c.Password = "secret"
		c.KnownHostsFile = ""

		cc, err := c.ClientConfig()
		if err != nil {
			t.Fatalf("ClientConfig failed: %v", err)
		}
		if cc.User != "hm" || len(cc.Auth) != 2 {
			t.Errorf("unexpected client config user=%s auth=%d", cc.User, len(cc.Auth))
		}
	})

	t.Run("key", func(t *testing.T) {
		c := NewConfig("compute01", "hm")
		c.KeyFile = sshtest.WriteClientKey(t)
		c.KnownHostsFile = ""

		cc, err := c.ClientConfig()
		if err != nil {
			t.Fatalf("ClientConfig failed: %v", err)
		}
		if len(cc.Auth) != 1 {
			t.Errorf("expected one auth method, got %d", len(cc.Auth))
		}
	})

	t.Run("unparsable key", func(t *testing.T) {
		c := NewConfig("compute01", "hm")
		c.KeyFile = sshtest.WriteClientKey(t)
		c.KeyPassphrase = "not encrypted"
		c.KnownHostsFile = ""

		if _, err := c.ClientConfig(); err == nil {
			t.Error("expected error for a passphrase on an unencrypted key")
		}
	})

	t.Run("missing known_hosts", func(t *testing.T) {
		c := NewConfig("compute01", "hm")
		c.Password = "secret"
		c.KnownHostsFile = "/nonexistent/known_hosts"

		if _, err := c.ClientConfig(); err == nil {
			t.Error("expected error for missing known_hosts")
		}
	})
}
