package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderOpenAI  = "openai"
)

const probeText = "dimension probe"

// client is what a provider needs to implement; the factory learns the
// dimension by probing it once.
type client interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatch() int
}

// ProviderConfig carries the credentials each provider needs. A provider
// without credentials fails on Open, which lets the adapter fall back.
type ProviderConfig struct {
	AWS          *aws.Config
	GeminiAPIKey string
	OpenAIAPIKey string
	OpenAIURL    string
}

// ProviderFactory opens models named "<provider>:<model>". Identifiers
// without a known provider prefix are Bedrock model ids.
type ProviderFactory struct {
	cfg ProviderConfig
}

func NewProviderFactory(cfg ProviderConfig) *ProviderFactory {
	return &ProviderFactory{cfg: cfg}
}

// ParseModelID splits a model identifier into provider and model name.
// Bedrock ids may themselves contain a colon (amazon.titan-embed-text-v2:0).
func ParseModelID(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	if p, m, ok := strings.Cut(id, ":"); ok {
		switch p {
		case ProviderBedrock, ProviderGemini, ProviderOpenAI:
			return p, m
		}
	}
	return ProviderBedrock, id
}

func (f *ProviderFactory) Open(ctx context.Context, modelID string) (Model, error) {
	provider, name := ParseModelID(modelID)
	if name == "" {
		return nil, fmt.Errorf("empty model name in %q", modelID)
	}

	var (
		c   client
		err error
	)
	switch provider {
	case ProviderBedrock:
		if f.cfg.AWS == nil {
			return nil, errors.New("bedrock: aws config not set")
		}
		c, err = NewBedrockEmbedder(bedrockruntime.NewFromConfig(*f.cfg.AWS), name)
	case ProviderGemini:
		if f.cfg.GeminiAPIKey == "" {
			return nil, errors.New("gemini: api key not set")
		}
		c, err = NewGeminiEmbedder(ctx, f.cfg.GeminiAPIKey, name)
	case ProviderOpenAI:
		if f.cfg.OpenAIAPIKey == "" {
			return nil, errors.New("openai: api key not set")
		}
		c, err = NewOpenAIEmbedder(f.cfg.OpenAIAPIKey, f.cfg.OpenAIURL, name)
	}
	if err != nil {
		return nil, err
	}
	return probe(ctx, modelID, c)
}

type probedModel struct {
	client
	name string
	dim  int
}

func (m *probedModel) Name() string   { return m.name }
func (m *probedModel) Dimension() int { return m.dim }

func probe(ctx context.Context, name string, c client) (Model, error) {
	vecs, err := c.EmbedTexts(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.New("probe: empty embedding")
	}
	return &probedModel{client: c, name: name, dim: len(vecs[0])}, nil
}
