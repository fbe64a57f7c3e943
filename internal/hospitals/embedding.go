package hospitals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/pkg/logging"
	"github.com/redis/go-redis/v9"
)

const defaultDocsKey = "hospitals:docs"

type embeddedDoc struct {
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingRetriever ranks passages by cosine similarity to the query
// embedding. Embedded passages are persisted to Redis so other processes can
// hydrate without re-embedding.
type EmbeddingRetriever struct {
	embedder llm.Embedder
	redis    *redis.Client
	key      string
	topK     int
	logger   *logging.Logger

	mu   sync.RWMutex
	docs []embeddedDoc
}

// NewEmbeddingRetriever builds a retriever. client may be nil to keep the
// embeddings in process only.
func NewEmbeddingRetriever(embedder llm.Embedder, client *redis.Client, topK int, logger *logging.Logger) *EmbeddingRetriever {
	if embedder == nil {
		panic("hospitals: embedder cannot be nil")
	}
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EmbeddingRetriever{embedder: embedder, redis: client, key: defaultDocsKey, topK: topK, logger: logger}
}

var _ Retriever = (*EmbeddingRetriever)(nil)

// Index embeds the catalog and replaces the stored documents.
func (r *EmbeddingRetriever) Index(ctx context.Context, catalog []Hospital) error {
	if len(catalog) == 0 {
		return nil
	}
	passages := make([]string, len(catalog))
	for i, h := range catalog {
		passages[i] = h.Passage()
	}
	vectors, err := r.embedder.Embed(ctx, passages)
	if err != nil {
		return fmt.Errorf("hospitals: embed catalog: %w", err)
	}
	if len(vectors) != len(passages) {
		return errors.New("hospitals: embedding response size mismatch")
	}
	docs := make([]embeddedDoc, len(passages))
	for i := range passages {
		docs[i] = embeddedDoc{Content: passages[i], Embedding: vectors[i]}
	}

	if r.redis != nil {
		values := make([]any, len(docs))
		for i, d := range docs {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("hospitals: marshal doc: %w", err)
			}
			values[i] = data
		}
		if _, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.key)
			pipe.RPush(ctx, r.key, values...)
			return nil
		}); err != nil {
			return fmt.Errorf("hospitals: persist docs: %w", err)
		}
	}

	r.mu.Lock()
	r.docs = docs
	r.mu.Unlock()
	return nil
}

// Load hydrates the in-memory index from Redis and returns the document count.
func (r *EmbeddingRetriever) Load(ctx context.Context) (int, error) {
	if r.redis == nil {
		return 0, nil
	}
	raw, err := r.redis.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("hospitals: load docs: %w", err)
	}
	docs := make([]embeddedDoc, 0, len(raw))
	for _, item := range raw {
		var d embeddedDoc
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			r.logger.Warn("skipping malformed hospital doc", "error", err)
			continue
		}
		docs = append(docs, d)
	}
	r.mu.Lock()
	r.docs = docs
	r.mu.Unlock()
	return len(docs), nil
}

func (r *EmbeddingRetriever) Search(ctx context.Context, query string) ([]string, error) {
	r.mu.RLock()
	candidates := r.docs
	r.mu.RUnlock()
	if len(candidates) == 0 {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("hospitals: embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVec := vectors[0]

	type scored struct {
		score   float64
		content string
	}
	results := make([]scored, 0, len(candidates))
	for _, doc := range candidates {
		results = append(results, scored{score: cosineSimilarity(queryVec, doc.Embedding), content: doc.Content})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	limit := r.topK
	if len(results) < limit {
		limit = len(results)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].content
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
