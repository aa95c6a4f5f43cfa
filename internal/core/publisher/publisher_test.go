package publisher

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/core/index"
	objectclient "github.com/markdave123-py/pdfindex/internal/core/object-client"
	"github.com/markdave123-py/pdfindex/internal/models"
)

const bucket = "test-bucket"

// flakyStore fails uploads of keys with the given suffix.
type flakyStore struct {
	core.ObjectClient
	failSuffix string

	mu      sync.Mutex
	uploads []string
}

func (s *flakyStore) UploadFile(ctx context.Context, b, key string, data io.Reader, ct string) (string, error) {
	s.mu.Lock()
	s.uploads = append(s.uploads, key)
	s.mu.Unlock()
	if s.failSuffix != "" && strings.HasSuffix(key, s.failSuffix) {
		return "", errors.New("connection reset")
	}
	return s.ObjectClient.UploadFile(ctx, b, key, data, ct)
}

func buildIndex(t *testing.T, requestID string, n int) *index.Index {
	t.Helper()
	frags := make([]models.Fragment, n)
	vecs := make([]models.EmbeddingVector, n)
	for i := range frags {
		frags[i] = models.Fragment{Index: i, Text: "text", SourcePage: 0}
		vecs[i] = models.EmbeddingVector{Values: []float32{float32(i), 1, 2}}
	}
	ix, err := index.Build(requestID, "titan", frags, vecs)
	require.NoError(t, err)
	return ix
}

func newPublisher(store core.ObjectClient, keys KeyStrategy, staging afero.Fs) *Publisher {
	return New(store, bucket, keys,
		WithStaging(staging, "/staging"),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
	)
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("Should publish a pair that can be fetched back", func(t *testing.T) {
		store := objectclient.NewFSClientWithFs(afero.NewMemMapFs())
		staging := afero.NewMemMapFs()
		p := newPublisher(store, PerRequestKey{Prefix: "indexes"}, staging)
		ix := buildIndex(t, "req-1", 3)

		art, err := p.Publish(ctx, ix, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "indexes/req-1", art.StorageKey)
		assert.Equal(t, "indexes/req-1.index", art.IndexKey)
		assert.Equal(t, "indexes/req-1.fragments.json", art.SidecarKey)
		assert.Equal(t, 3, art.FragmentCount)
		assert.Equal(t, 3, art.Dimension)

		ok, err := p.Available(ctx, "indexes/req-1")
		require.NoError(t, err)
		assert.True(t, ok)

		fetched, m, err := p.Fetch(ctx, "indexes/req-1")
		require.NoError(t, err)
		assert.Equal(t, ix, fetched)
		assert.Equal(t, "req-1", m.RequestID)

		exists, err := afero.DirExists(staging, "/staging/req-1")
		require.NoError(t, err)
		assert.False(t, exists, "staging dir is removed")
	})

	t.Run("Should publish an empty index", func(t *testing.T) {
		store := objectclient.NewFSClientWithFs(afero.NewMemMapFs())
		p := newPublisher(store, PerRequestKey{}, afero.NewMemMapFs())
		ix, err := index.Build("req-empty", "titan", nil, nil)
		require.NoError(t, err)

		art, err := p.Publish(ctx, ix, "req-empty")
		require.NoError(t, err)
		assert.Equal(t, 0, art.FragmentCount)

		ok, err := p.Available(ctx, "req-empty")
		require.NoError(t, err)
		assert.True(t, ok)

		fetched, _, err := p.Fetch(ctx, "req-empty")
		require.NoError(t, err)
		assert.Equal(t, 0, fetched.Len())
	})

	t.Run("Should let the last writer win on a shared key", func(t *testing.T) {
		store := objectclient.NewFSClientWithFs(afero.NewMemMapFs())
		p := newPublisher(store, SharedKey{Key: "my_faiss"}, afero.NewMemMapFs())

		_, err := p.Publish(ctx, buildIndex(t, "first", 1), "first")
		require.NoError(t, err)
		art, err := p.Publish(ctx, buildIndex(t, "second", 2), "second")
		require.NoError(t, err)
		assert.Equal(t, "my_faiss", art.StorageKey)

		fetched, m, err := p.Fetch(ctx, "my_faiss")
		require.NoError(t, err)
		assert.Equal(t, "second", m.RequestID)
		assert.Equal(t, 2, fetched.Len())
	})

	t.Run("Should report persistence failure when the second payload fails", func(t *testing.T) {
		backing := objectclient.NewFSClientWithFs(afero.NewMemMapFs())
		good := newPublisher(backing, SharedKey{Key: "my_faiss"}, afero.NewMemMapFs())
		_, err := good.Publish(ctx, buildIndex(t, "earlier", 1), "earlier")
		require.NoError(t, err)

		store := &flakyStore{ObjectClient: backing, failSuffix: SidecarSuffix}
		p := newPublisher(store, SharedKey{Key: "my_faiss"}, afero.NewMemMapFs())

		_, err = p.Publish(ctx, buildIndex(t, "later", 2), "later")
		require.ErrorIs(t, err, core.ErrPersistenceFailure)
		assert.Equal(t, []string{"my_faiss.index", "my_faiss.fragments.json"}, store.uploads)

		ok, err := p.Available(ctx, "my_faiss")
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = p.Fetch(ctx, "my_faiss")
		assert.ErrorIs(t, err, ErrNotPublished)

		indexLeft, err := backing.Exists(ctx, bucket, "my_faiss.index")
		require.NoError(t, err)
		assert.False(t, indexLeft, "partial index payload is removed")
	})

	t.Run("Should report persistence failure when the first payload fails", func(t *testing.T) {
		store := &flakyStore{ObjectClient: objectclient.NewFSClientWithFs(afero.NewMemMapFs()), failSuffix: IndexSuffix}
		p := newPublisher(store, PerRequestKey{}, afero.NewMemMapFs())

		_, err := p.Publish(ctx, buildIndex(t, "req", 1), "req")
		require.ErrorIs(t, err, core.ErrPersistenceFailure)
		assert.Equal(t, []string{"req.index"}, store.uploads)
	})

	t.Run("Should not report availability without both payloads", func(t *testing.T) {
		store := objectclient.NewFSClientWithFs(afero.NewMemMapFs())
		p := newPublisher(store, PerRequestKey{}, afero.NewMemMapFs())
		_, err := p.Publish(ctx, buildIndex(t, "req", 1), "req")
		require.NoError(t, err)

		require.NoError(t, store.DeleteFile(ctx, bucket, "req"+SidecarSuffix))
		ok, err := p.Available(ctx, "req")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = p.Available(ctx, "never-published")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should refuse request ids that would leave the staging area", func(t *testing.T) {
		store := &flakyStore{ObjectClient: objectclient.NewFSClientWithFs(afero.NewMemMapFs())}
		staging := afero.NewMemMapFs()
		p := newPublisher(store, PerRequestKey{}, staging)

		for _, id := range []string{"", ".", "..", "../outside", "a/b", `a\b`} {
			_, err := p.Publish(ctx, buildIndex(t, "req", 1), id)
			require.ErrorIs(t, err, core.ErrInvalidRequest, "id %q", id)
		}
		assert.Empty(t, store.uploads)
	})

	t.Run("Should detect payloads that do not match the manifest", func(t *testing.T) {
		store := objectclient.NewFSClientWithFs(afero.NewMemMapFs())
		p := newPublisher(store, PerRequestKey{}, afero.NewMemMapFs())
		_, err := p.Publish(ctx, buildIndex(t, "req", 1), "req")
		require.NoError(t, err)

		_, err = store.UploadFile(ctx, bucket, "req"+SidecarSuffix, strings.NewReader(`{"fragments":[]}`), "application/json")
		require.NoError(t, err)
		_, _, err = p.Fetch(ctx, "req")
		assert.ErrorIs(t, err, index.ErrCorruptIndex)
	})
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UploadFile(ctx context.Context, b, key string, data io.Reader, ct string) (string, error) {
	args := m.Called(ctx, b, key, data, ct)
	return args.String(0), args.Error(1)
}

func (m *mockStore) DeleteFile(ctx context.Context, b, key string) error {
	return m.Called(ctx, b, key).Error(0)
}

func (m *mockStore) GetFile(ctx context.Context, b, key string) ([]byte, error) {
	args := m.Called(ctx, b, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockStore) GetObjectReader(ctx context.Context, b, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, b, key)
	r, _ := args.Get(0).(io.ReadCloser)
	return r, args.Error(1)
}

func (m *mockStore) Exists(ctx context.Context, b, key string) (bool, error) {
	args := m.Called(ctx, b, key)
	return args.Bool(0), args.Error(1)
}

func TestPublishCallOrder(t *testing.T) {
	t.Run("Should invalidate, upload both payloads, then write the manifest", func(t *testing.T) {
		store := &mockStore{}
		ctx := context.Background()
		store.On("DeleteFile", ctx, bucket, "k.manifest.json").Return(nil).Once()
		store.On("UploadFile", ctx, bucket, "k.index", mock.Anything, "application/octet-stream").Return("u1", nil).Once()
		store.On("UploadFile", ctx, bucket, "k.fragments.json", mock.Anything, "application/json").Return("u2", nil).Once()
		store.On("UploadFile", ctx, bucket, "k.manifest.json", mock.Anything, "application/json").Return("u3", nil).Once()

		p := newPublisher(store, SharedKey{Key: "k"}, afero.NewMemMapFs())
		art, err := p.Publish(ctx, buildIndex(t, "req", 2), "req")
		require.NoError(t, err)
		assert.Equal(t, "u1", art.IndexURL)
		assert.Equal(t, "u2", art.SidecarURL)
		store.AssertExpectations(t)
	})

	t.Run("Should remove the index when the sidecar upload fails", func(t *testing.T) {
		store := &mockStore{}
		ctx := context.Background()
		store.On("DeleteFile", ctx, bucket, "k.manifest.json").Return(nil).Once()
		store.On("UploadFile", ctx, bucket, "k.index", mock.Anything, mock.Anything).Return("u1", nil).Once()
		store.On("UploadFile", ctx, bucket, "k.fragments.json", mock.Anything, mock.Anything).Return("", errors.New("503")).Once()
		store.On("DeleteFile", ctx, bucket, "k.index").Return(errors.New("still down")).Once()

		p := newPublisher(store, SharedKey{Key: "k"}, afero.NewMemMapFs())
		_, err := p.Publish(ctx, buildIndex(t, "req", 2), "req")
		require.ErrorIs(t, err, core.ErrPersistenceFailure)
		store.AssertExpectations(t)
		store.AssertNotCalled(t, "UploadFile", ctx, bucket, "k.manifest.json", mock.Anything, mock.Anything)
	})

	t.Run("Should fail before uploading when the old manifest cannot be removed", func(t *testing.T) {
		store := &mockStore{}
		ctx := context.Background()
		store.On("DeleteFile", ctx, bucket, "k.manifest.json").Return(errors.New("denied")).Once()

		p := newPublisher(store, SharedKey{Key: "k"}, afero.NewMemMapFs())
		_, err := p.Publish(ctx, buildIndex(t, "req", 1), "req")
		require.ErrorIs(t, err, core.ErrPersistenceFailure)
		store.AssertNotCalled(t, "UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestParseKeyStrategy(t *testing.T) {
	s, err := ParseKeyStrategy("shared", "my_faiss", "")
	require.NoError(t, err)
	assert.Equal(t, "my_faiss", s.KeyFor("a"))
	assert.Equal(t, "my_faiss", s.KeyFor("b"))

	s, err = ParseKeyStrategy("per-request", "", "/indexes/")
	require.NoError(t, err)
	assert.Equal(t, "indexes/a", s.KeyFor("a"))
	assert.NotEqual(t, s.KeyFor("a"), s.KeyFor("b"))

	s, err = ParseKeyStrategy("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "a", s.KeyFor("a"))

	_, err = ParseKeyStrategy("shared", " ", "")
	assert.Error(t, err)
	_, err = ParseKeyStrategy("random", "", "")
	assert.Error(t, err)
}
