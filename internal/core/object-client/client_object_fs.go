package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/markdave123-py/pdfindex/internal/core"
)

// FSClient stores objects as files under <root>/<bucket>/<key>. Writes go
// to a temporary file first and are renamed into place.
type FSClient struct {
	fs   afero.Fs
	root string
}

// NewFSClient serves objects from a directory on the local disk.
func NewFSClient(root string) (*FSClient, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FSClient{fs: afero.NewBasePathFs(osFs, abs), root: abs}, nil
}

// NewFSClientWithFs is used with an in-memory afero.Fs in tests.
func NewFSClientWithFs(fsys afero.Fs) *FSClient {
	return &FSClient{fs: fsys}
}

func (c *FSClient) objectPath(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	p := path.Clean("/" + bucket + "/" + key)
	if p == "/"+bucket || !isUnder(p, "/"+bucket) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.FromSlash(p), nil
}

func isUnder(p, dir string) bool {
	return len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/'
}

func (c *FSClient) UploadFile(ctx context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	p, err := c.objectPath(bucket, key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("fs upload failed: %w", err)
	}

	tmp := p + ".part"
	f, err := c.fs.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = c.fs.Remove(tmp)
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = c.fs.Remove(tmp)
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	if err := c.fs.Rename(tmp, p); err != nil {
		_ = c.fs.Remove(tmp)
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	return "file://" + filepath.ToSlash(filepath.Join(c.root, p)), nil
}

// DeleteFile is idempotent, like S3 DeleteObject.
func (c *FSClient) DeleteFile(_ context.Context, bucket, key string) error {
	p, err := c.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := c.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fs delete failed: %w", err)
	}
	return nil
}

func (c *FSClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := c.GetObjectReader(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *FSClient) GetObjectReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := c.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := c.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("fs get failed: %w", err)
	}
	return f, nil
}

func (c *FSClient) Exists(_ context.Context, bucket, key string) (bool, error) {
	p, err := c.objectPath(bucket, key)
	if err != nil {
		return false, err
	}
	return afero.Exists(c.fs, p)
}

var _ core.ObjectClient = (*FSClient)(nil)
