package objectclient

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store and read back objects", func(t *testing.T) {
		c := NewFSClientWithFs(afero.NewMemMapFs())
		url, err := c.UploadFile(ctx, "bucket", "indexes/abc.index", strings.NewReader("payload"), "application/octet-stream")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "file://"))
		assert.True(t, strings.HasSuffix(url, "bucket/indexes/abc.index"))

		ok, err := c.Exists(ctx, "bucket", "indexes/abc.index")
		require.NoError(t, err)
		assert.True(t, ok)

		data, err := c.GetFile(ctx, "bucket", "indexes/abc.index")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	})

	t.Run("Should overwrite an existing object", func(t *testing.T) {
		c := NewFSClientWithFs(afero.NewMemMapFs())
		_, err := c.UploadFile(ctx, "bucket", "k", strings.NewReader("one"), "")
		require.NoError(t, err)
		_, err = c.UploadFile(ctx, "bucket", "k", strings.NewReader("two"), "")
		require.NoError(t, err)

		data, err := c.GetFile(ctx, "bucket", "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))
	})

	t.Run("Should report missing objects", func(t *testing.T) {
		c := NewFSClientWithFs(afero.NewMemMapFs())
		ok, err := c.Exists(ctx, "bucket", "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = c.GetFile(ctx, "bucket", "missing")
		assert.ErrorIs(t, err, ErrObjectNotFound)

		assert.NoError(t, c.DeleteFile(ctx, "bucket", "missing"))
	})

	t.Run("Should delete objects", func(t *testing.T) {
		c := NewFSClientWithFs(afero.NewMemMapFs())
		_, err := c.UploadFile(ctx, "bucket", "k", strings.NewReader("x"), "")
		require.NoError(t, err)
		require.NoError(t, c.DeleteFile(ctx, "bucket", "k"))

		ok, err := c.Exists(ctx, "bucket", "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should reject keys escaping the bucket", func(t *testing.T) {
		c := NewFSClientWithFs(afero.NewMemMapFs())
		for _, key := range []string{"../other/k", "", "a/../.."} {
			_, err := c.UploadFile(ctx, "bucket", key, strings.NewReader("x"), "")
			assert.Error(t, err, key)
		}
	})

	t.Run("Should write under the storage directory on disk", func(t *testing.T) {
		dir := t.TempDir()
		c, err := NewFSClient(dir)
		require.NoError(t, err)

		_, err = c.UploadFile(ctx, "bucket", "a/b.json", strings.NewReader("{}"), "application/json")
		require.NoError(t, err)

		ok, err := afero.Exists(afero.NewOsFs(), dir+"/bucket/a/b.json")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
