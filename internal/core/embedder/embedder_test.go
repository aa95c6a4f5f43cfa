package embedder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

type fakeModel struct {
	name     string
	dim      int
	maxBatch int
	fail     error
	short    bool
	dropLast bool

	calls atomic.Int32
	mu    sync.Mutex
	seen  []string
}

func (m *fakeModel) Name() string   { return m.name }
func (m *fakeModel) Dimension() int { return m.dim }
func (m *fakeModel) MaxBatch() int  { return m.maxBatch }

func (m *fakeModel) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.seen = append(m.seen, texts...)
	m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		dim := m.dim
		if m.short {
			dim--
		}
		v := make([]float32, dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	if m.dropLast {
		out = out[:len(out)-1]
	}
	return out, nil
}

type fakeFactory struct {
	models map[string]*fakeModel
	opened []string
}

func (f *fakeFactory) Open(_ context.Context, id string) (Model, error) {
	f.opened = append(f.opened, id)
	m, ok := f.models[id]
	if !ok {
		return nil, errors.New("access denied")
	}
	return m, nil
}

// probingFactory opens models the way ProviderFactory does, through probe.
type probingFactory struct {
	client *fakeModel
}

func (f probingFactory) Open(ctx context.Context, id string) (Model, error) {
	return probe(ctx, id, f.client)
}

func fragments(texts ...string) []models.Fragment {
	out := make([]models.Fragment, len(texts))
	for i, t := range texts {
		out[i] = models.Fragment{Index: i, Text: t}
	}
	return out
}

func TestNewAdapter(t *testing.T) {
	t.Run("Should require at least one model id", func(t *testing.T) {
		_, err := NewAdapter(&fakeFactory{}, []string{" ", ""})
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
	})

	t.Run("Should require a factory", func(t *testing.T) {
		_, err := NewAdapter(nil, DefaultModels)
		assert.Error(t, err)
	})
}

func TestAcquire(t *testing.T) {
	t.Run("Should fall back to the next model when the first cannot be opened", func(t *testing.T) {
		second := &fakeModel{name: "second", dim: 4}
		factory := &fakeFactory{models: map[string]*fakeModel{"second": second}}
		a, err := NewAdapter(factory, []string{"first", "second"})
		require.NoError(t, err)

		m, err := a.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "second", m.Name())

		_, err = a.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, factory.opened, "selection is cached")
	})

	t.Run("Should report unavailable when no model can be opened", func(t *testing.T) {
		factory := &fakeFactory{}
		a, err := NewAdapter(factory, []string{"first", "second"})
		require.NoError(t, err)

		_, err = a.EmbedAll(context.Background(), fragments("a"))
		require.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
		assert.Contains(t, err.Error(), "first")
		assert.Contains(t, err.Error(), "second")
		assert.Equal(t, []string{"first", "second"}, factory.opened)
	})

	t.Run("Should skip a model reporting no dimension", func(t *testing.T) {
		factory := &fakeFactory{models: map[string]*fakeModel{
			"broken": {name: "broken", dim: 0},
			"good":   {name: "good", dim: 3},
		}}
		a, err := NewAdapter(factory, []string{"broken", "good"})
		require.NoError(t, err)
		m, err := a.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "good", m.Name())
	})
}

func TestEmbedAll(t *testing.T) {
	t.Run("Should return one vector per fragment in input order", func(t *testing.T) {
		m := &fakeModel{name: "m", dim: 4}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"}, WithBatchSize(2))
		require.NoError(t, err)

		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
		vecs, err := a.EmbedAll(context.Background(), fragments(texts...))
		require.NoError(t, err)
		require.Len(t, vecs, len(texts))
		for i, v := range vecs {
			assert.Equal(t, 4, v.Dimension())
			assert.Equal(t, float32(len(texts[i])), v.Values[0])
		}
		assert.Equal(t, int32(3), m.calls.Load())
	})

	t.Run("Should respect the model batch limit", func(t *testing.T) {
		m := &fakeModel{name: "titan", dim: 2, maxBatch: 1}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"titan": m}}, []string{"titan"}, WithBatchSize(16))
		require.NoError(t, err)

		_, err = a.EmbedAll(context.Background(), fragments("a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, int32(3), m.calls.Load())
	})

	t.Run("Should give blank fragments a zero vector without calling the model", func(t *testing.T) {
		m := &fakeModel{name: "m", dim: 3}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"})
		require.NoError(t, err)

		vecs, err := a.EmbedAll(context.Background(), fragments("  ", "text"))
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 0}, vecs[0].Values)
		assert.Equal(t, []string{"text"}, m.seen)
	})

	t.Run("Should acquire a model even for empty input", func(t *testing.T) {
		factory := &fakeFactory{}
		a, err := NewAdapter(factory, []string{"missing"})
		require.NoError(t, err)

		_, err = a.EmbedAll(context.Background(), nil)
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)

		m := &fakeModel{name: "m", dim: 3}
		a, err = NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"})
		require.NoError(t, err)
		vecs, err := a.EmbedAll(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
		assert.Equal(t, int32(0), m.calls.Load())
	})

	t.Run("Should probe a cold provider once for empty input", func(t *testing.T) {
		c := &fakeModel{name: "m", dim: 5}
		a, err := NewAdapter(probingFactory{client: c}, []string{"m"})
		require.NoError(t, err)

		for range 2 {
			vecs, err := a.EmbedAll(context.Background(), nil)
			require.NoError(t, err)
			assert.Empty(t, vecs)
		}
		assert.Equal(t, int32(1), c.calls.Load(), "only the dimension probe reaches the provider")
		assert.Equal(t, []string{"dimension probe"}, c.seen)
	})

	t.Run("Should wrap provider failures", func(t *testing.T) {
		m := &fakeModel{name: "m", dim: 3, fail: errors.New("throttled")}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"})
		require.NoError(t, err)

		_, err = a.EmbedAll(context.Background(), fragments("a"))
		require.ErrorIs(t, err, core.ErrEmbeddingCall)
		assert.Contains(t, err.Error(), "throttled")
	})

	t.Run("Should reject vectors of the wrong length", func(t *testing.T) {
		m := &fakeModel{name: "m", dim: 3, short: true}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"})
		require.NoError(t, err)

		_, err = a.EmbedAll(context.Background(), fragments("a"))
		assert.ErrorIs(t, err, core.ErrInconsistentEmbeddingDimension)
	})

	t.Run("Should reject a batch answered with too few vectors", func(t *testing.T) {
		m := &fakeModel{name: "m", dim: 3, maxBatch: 8, dropLast: true}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"})
		require.NoError(t, err)

		_, err = a.EmbedAll(context.Background(), fragments("a", "b"))
		require.ErrorIs(t, err, core.ErrDimensionMismatch)
		assert.NotErrorIs(t, err, core.ErrInconsistentEmbeddingDimension)
	})

	t.Run("Should serve repeated text from the cache", func(t *testing.T) {
		m := &fakeModel{name: "m", dim: 3}
		a, err := NewAdapter(&fakeFactory{models: map[string]*fakeModel{"m": m}}, []string{"m"}, WithCacheSize(8))
		require.NoError(t, err)

		first, err := a.EmbedAll(context.Background(), fragments("hello"))
		require.NoError(t, err)
		second, err := a.EmbedAll(context.Background(), fragments("hello", "world"))
		require.NoError(t, err)

		assert.Equal(t, first[0].Values, second[0].Values)
		assert.Equal(t, []string{"hello", "world"}, m.seen)

		second[0].Values[1] = 42
		third, err := a.EmbedAll(context.Background(), fragments("hello"))
		require.NoError(t, err)
		assert.Equal(t, float32(0), third[0].Values[1], "cached vectors are copied")
	})
}

func TestParseModelID(t *testing.T) {
	cases := []struct {
		id, provider, model string
	}{
		{id: "amazon.titan-embed-text-v1", provider: ProviderBedrock, model: "amazon.titan-embed-text-v1"},
		{id: "amazon.titan-embed-text-v2:0", provider: ProviderBedrock, model: "amazon.titan-embed-text-v2:0"},
		{id: "bedrock:cohere.embed-english-v3", provider: ProviderBedrock, model: "cohere.embed-english-v3"},
		{id: "gemini:gemini-embedding-001", provider: ProviderGemini, model: "gemini-embedding-001"},
		{id: " openai:text-embedding-3-small ", provider: ProviderOpenAI, model: "text-embedding-3-small"},
	}
	for _, c := range cases {
		p, m := ParseModelID(c.id)
		assert.Equal(t, c.provider, p, c.id)
		assert.Equal(t, c.model, m, c.id)
	}
}

func TestProviderFactory(t *testing.T) {
	t.Run("Should fail to open providers without credentials", func(t *testing.T) {
		f := NewProviderFactory(ProviderConfig{})
		for _, id := range []string{"amazon.titan-embed-text-v1", "gemini:gemini-embedding-001", "openai:text-embedding-3-small"} {
			_, err := f.Open(context.Background(), id)
			assert.Error(t, err, id)
		}
	})

	t.Run("Should probe the dimension of a client", func(t *testing.T) {
		m, err := probe(context.Background(), "fake", &fakeModel{name: "fake", dim: 7})
		require.NoError(t, err)
		assert.Equal(t, 7, m.Dimension())
		assert.Equal(t, "fake", m.Name())
	})

	t.Run("Should fail the probe on provider error", func(t *testing.T) {
		_, err := probe(context.Background(), "fake", &fakeModel{dim: 7, fail: errors.New("no access")})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "no access"))
	})
}
