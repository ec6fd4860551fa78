// Package ssh runs commands and transfers run paths on a remote host over
// SSH and SFTP.
package ssh

import (
	"context"
	"time"
)

// Transport defines the remote operations the ssh evaluator needs.
type Transport interface {
	// Connect establishes the connection. Calling it on a live connection is a no-op.
	Connect(ctx context.Context) error

	// Close releases the connection.
	Close() error

	// Run executes a command on the remote host. A non-zero exit status is
	// returned as a *TransportError together with the captured output.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	// UploadDirectory recursively copies a local directory to the remote host.
	UploadDirectory(ctx context.Context, localPath string, remotePath string) error

	// DownloadDirectory recursively copies a remote directory to the local host.
	DownloadDirectory(ctx context.Context, remotePath string, localPath string) error
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// Stdout is the standard output from the command.
	Stdout string

	// Stderr is the standard error output from the command.
	Stderr string

	// ExitCode is the command's exit code, -1 when it did not exit.
	ExitCode int

	// Duration is the total execution time.
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates if the error is temporary and can be retried.
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
