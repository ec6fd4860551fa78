package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

func (c *Client) sftpClient() (*sftp.Client, error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{Op: "sftp-init", Err: err, IsTemporary: true}
	}
	return sc, nil
}

// UploadFile copies a single local file to remotePath, creating parent
// directories and keeping the permission bits.
func (c *Client) UploadFile(ctx context.Context, localPath string, remotePath string) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	defer sc.Close()

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	return c.uploadFile(ctx, sc, localPath, remotePath, info.Mode().Perm())
}

// DownloadFile copies a single remote file to localPath.
func (c *Client) DownloadFile(ctx context.Context, remotePath string, localPath string) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	defer sc.Close()

	return c.downloadFile(ctx, sc, remotePath, localPath)
}

// UploadDirectory recursively copies localPath to remotePath.
func (c *Client) UploadDirectory(ctx context.Context, localPath string, remotePath string) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	defer sc.Close()

	files := 0
	err = filepath.Walk(localPath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		target := path.Join(remotePath, filepath.ToSlash(rel))

		if info.IsDir() {
			if err := sc.MkdirAll(target); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		files++
		return c.uploadFile(ctx, sc, p, target, info.Mode().Perm())
	})
	if err != nil {
		return &TransportError{Op: "upload-dir", Err: err}
	}

	c.logger.Debug().Str("local", localPath).Str("remote", remotePath).Int("files", files).Msg("directory uploaded")
	return nil
}

// DownloadDirectory recursively copies remotePath to localPath.
func (c *Client) DownloadDirectory(ctx context.Context, remotePath string, localPath string) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	defer sc.Close()

	files := 0
	walker := sc.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return &TransportError{Op: "download-dir", Err: fmt.Errorf("failed to walk remote directory: %w", err), IsTemporary: true}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return err
		}
		target := filepath.Join(localPath, rel)

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			continue
		}

		files++
		if err := c.downloadFile(ctx, sc, walker.Path(), target); err != nil {
			return &TransportError{Op: "download-dir", Err: err}
		}
	}

	c.logger.Debug().Str("remote", remotePath).Str("local", localPath).Int("files", files).Msg("directory downloaded")
	return nil
}

func (c *Client) uploadFile(ctx context.Context, sc *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	if err := sc.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	dst, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := copyWithContext(ctx, dst, src); err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	if err := sc.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", remotePath, err)
	}
	return nil
}

func (c *Client) downloadFile(ctx context.Context, sc *sftp.Client, remotePath, localPath string) error {
	src, err := sc.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat remote file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	if _, err := copyWithContext(ctx, dst, src); err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	return nil
}

// copyWithContext copies in 32KB chunks, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
