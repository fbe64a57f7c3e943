package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/internal/hospitals"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const unconfiguredReply = "I'm sorry, our assistant is unavailable right now. Please call back later."

// ModelStack is the chat client plus the model id requests should carry.
type ModelStack struct {
	Client llm.Client
	Model  string
	closer io.Closer
}

// Close releases provider connections.
func (m *ModelStack) Close() error {
	if m == nil || m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// BuildModelStack wires Bedrock as the primary model and Gemini as the
// fallback when both are configured. With neither, calls get a fixed apology.
func BuildModelStack(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*ModelStack, error) {
	var (
		primary  llm.Client
		fallback llm.Client
		model    string
		closer   io.Closer
	)
	if strings.TrimSpace(cfg.BedrockModelID) != "" {
		primary = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
		model = cfg.BedrockModelID
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		closer = gemini
		if primary == nil {
			primary = gemini
			model = cfg.GeminiModelID
		} else {
			fallback = gemini
		}
	}

	if primary == nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("bootstrap: no model provider configured")
		}
		logger.Warn("no model provider configured; using scripted fallback client")
		stub := llm.NewScriptedClient()
		stub.Default = llm.Response{Text: unconfiguredReply}
		return &ModelStack{Client: stub}, nil
	}

	logger.Info("model client ready", "model", model, "fallback", fallback != nil)
	return &ModelStack{
		Client: llm.NewFallbackClient(primary, fallback, logger),
		Model:  model,
		closer: closer,
	}, nil
}

// BuildRetriever picks the hospital search backend. The embedding backend
// hydrates from Redis and indexes the catalog when Redis is empty.
func BuildRetriever(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client, logger *logging.Logger) (hospitals.Retriever, error) {
	switch cfg.RetrievalBackend {
	case "typesense":
		logger.Info("hospital retrieval ready", "backend", "typesense", "collection", cfg.TypesenseCollName)
		return hospitals.NewTypesenseRetriever(cfg.TypesenseURL, cfg.TypesenseAPIKey, cfg.TypesenseCollName, cfg.RetrievalTopK), nil
	case "embedding":
		embedder := llm.NewBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockEmbeddingModelID)
		retriever := hospitals.NewEmbeddingRetriever(embedder, redisClient, cfg.RetrievalTopK, logger)
		loaded, err := retriever.Load(ctx)
		if err != nil {
			logger.Warn("failed to hydrate hospital embeddings", "error", err)
		}
		if loaded == 0 {
			catalog, err := hospitals.LoadCatalog(cfg.HospitalCatalog)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
			if err := retriever.Index(ctx, catalog); err != nil {
				return nil, fmt.Errorf("bootstrap: index hospital catalog: %w", err)
			}
			loaded = len(catalog)
		}
		logger.Info("hospital retrieval ready", "backend", "embedding", "documents", loaded)
		return retriever, nil
	default:
		catalog, err := hospitals.LoadCatalog(cfg.HospitalCatalog)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		logger.Info("hospital retrieval ready", "backend", "static", "hospitals", len(catalog))
		return hospitals.NewStaticRetriever(catalog, cfg.RetrievalTopK), nil
	}
}
