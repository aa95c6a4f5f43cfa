package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	requests []map[string]any
	models   []string
	err      error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	var req map[string]any
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req)
	f.models = append(f.models, aws.ToString(in.ModelId))

	var body []byte
	if texts, ok := req["texts"].([]any); ok {
		embs := make([][]float32, len(texts))
		for i := range texts {
			embs[i] = []float32{float32(i), 1}
		}
		body, _ = json.Marshal(map[string]any{"embeddings": embs})
	} else {
		body, _ = json.Marshal(map[string]any{"embedding": []float32{0.5, 0.25, 0.125}})
	}
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockEmbedder(t *testing.T) {
	t.Run("Should invoke titan once per text", func(t *testing.T) {
		inv := &fakeInvoker{}
		b, err := NewBedrockEmbedder(inv, "amazon.titan-embed-text-v1")
		require.NoError(t, err)
		assert.Equal(t, 1, b.MaxBatch())

		vecs, err := b.EmbedTexts(context.Background(), []string{"one", "two"})
		require.NoError(t, err)
		require.Len(t, vecs, 2)
		assert.Equal(t, []float32{0.5, 0.25, 0.125}, vecs[1])
		require.Len(t, inv.requests, 2)
		assert.Equal(t, "two", inv.requests[1]["inputText"])
		assert.Equal(t, "amazon.titan-embed-text-v1", inv.models[0])
	})

	t.Run("Should batch cohere texts in one call", func(t *testing.T) {
		inv := &fakeInvoker{}
		b, err := NewBedrockEmbedder(inv, "cohere.embed-english-v3")
		require.NoError(t, err)
		assert.Equal(t, 96, b.MaxBatch())

		vecs, err := b.EmbedTexts(context.Background(), []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Equal(t, []float32{2, 1}, vecs[2])
		require.Len(t, inv.requests, 1)
		assert.Equal(t, "search_document", inv.requests[0]["input_type"])
		assert.Equal(t, "END", inv.requests[0]["truncate"])
	})

	t.Run("Should reject unknown model families", func(t *testing.T) {
		_, err := NewBedrockEmbedder(&fakeInvoker{}, "meta.llama3")
		assert.Error(t, err)
	})

	t.Run("Should surface invoke errors", func(t *testing.T) {
		b, err := NewBedrockEmbedder(&fakeInvoker{err: errors.New("AccessDeniedException")}, "amazon.titan-embed-text-v1")
		require.NoError(t, err)
		_, err = b.EmbedTexts(context.Background(), []string{"x"})
		assert.ErrorContains(t, err, "AccessDeniedException")
	})

	t.Run("Should probe through the factory wrapper", func(t *testing.T) {
		b, err := NewBedrockEmbedder(&fakeInvoker{}, "amazon.titan-embed-text-v1")
		require.NoError(t, err)
		m, err := probe(context.Background(), "amazon.titan-embed-text-v1", b)
		require.NoError(t, err)
		assert.Equal(t, 3, m.Dimension())
	})
}
