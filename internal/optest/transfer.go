package optest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/muurk/obmctl/internal/logging"
)

// SFTPTransfer copies files to the BMC over SFTP.
type SFTPTransfer struct {
	// Dial opens the SSH connection; console.SSHSpawner.Dial fits.
	Dial   func(ctx context.Context) (*ssh.Client, error)
	Logger *zap.Logger
}

// Transfer implements Transfer. A partial upload is removed.
func (t *SFTPTransfer) Transfer(ctx context.Context, localPath, remotePath string) error {
	logger := logging.OrDefault(t.Logger)

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer src.Close()

	conn, err := t.Dial(ctx)
	if err != nil {
		return fmt.Errorf("ssh dial for sftp failed: %w", err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("sftp client creation failed: %w", err)
	}
	defer client.Close()

	return upload(ctx, client, src, remotePath, logger)
}

func upload(ctx context.Context, client *sftp.Client, src io.Reader, remotePath string, logger *zap.Logger) error {
	remoteDir := path.Dir(remotePath)
	if err := client.MkdirAll(remoteDir); err != nil {
		if _, statErr := client.Stat(remoteDir); os.IsNotExist(statErr) {
			return fmt.Errorf("failed to create remote directory %s: %w", remoteDir, err)
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	n, err := io.Copy(dst, ctxReader{ctx: ctx, r: src})
	if err != nil {
		_ = dst.Close()
		_ = client.Remove(remotePath)
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	// Write failures on the server side surface on close.
	if err := dst.Close(); err != nil {
		_ = client.Remove(remotePath)
		return fmt.Errorf("failed to finalize remote file %s: %w", remotePath, err)
	}
	logger.Info("Image transferred", zap.String("remote", remotePath), zap.Int64("bytes", n))
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
