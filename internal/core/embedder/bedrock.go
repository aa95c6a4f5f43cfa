package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const cohereMaxBatch = 96

type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type bedrockFamily int

const (
	familyTitan bedrockFamily = iota
	familyCohere
)

// BedrockEmbedder calls Titan or Cohere embedding models through Bedrock.
type BedrockEmbedder struct {
	client  bedrockInvoker
	modelID string
	family  bedrockFamily
}

func NewBedrockEmbedder(client bedrockInvoker, modelID string) (*BedrockEmbedder, error) {
	var family bedrockFamily
	switch {
	case strings.HasPrefix(modelID, "amazon.titan-embed"):
		family = familyTitan
	case strings.HasPrefix(modelID, "cohere.embed"):
		family = familyCohere
	default:
		return nil, fmt.Errorf("bedrock: unsupported embedding model %q", modelID)
	}
	return &BedrockEmbedder{client: client, modelID: modelID, family: family}, nil
}

// MaxBatch is 1 for Titan, which embeds one text per invocation.
func (b *BedrockEmbedder) MaxBatch() int {
	if b.family == familyCohere {
		return cohereMaxBatch
	}
	return 1
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding []float32 `json:"embedding"`
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (b *BedrockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b.family == familyCohere {
		var resp cohereResponse
		req := cohereRequest{Texts: texts, InputType: "search_document", Truncate: "END"}
		if err := b.invoke(ctx, req, &resp); err != nil {
			return nil, err
		}
		return resp.Embeddings, nil
	}

	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		var resp titanResponse
		if err := b.invoke(ctx, titanRequest{InputText: t}, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

func (b *BedrockEmbedder) invoke(ctx context.Context, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bedrock: encode request: %w", err)
	}
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("bedrock invoke %s: %w", b.modelID, err)
	}
	if err := json.Unmarshal(out.Body, resp); err != nil {
		return fmt.Errorf("bedrock: decode response: %w", err)
	}
	return nil
}
