package hospitals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogPassages(t *testing.T) {
	catalog := DefaultCatalog()
	require.NotEmpty(t, catalog)
	p := catalog[0].Passage()
	assert.Contains(t, p, "Hospital: Apollo Hospital")
	assert.Contains(t, p, "Location: Chennai")
	assert.Contains(t, p, "Cardiology")
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := t.TempDir() + "/catalog.json"
	data := `[{"name":"Sunrise Clinic","location":"Madurai","specializations":["ENT"]}]`
	require.NoError(t, writeFile(path, data))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "sunrise-clinic-madurai", catalog[0].ID)

	_, err = LoadCatalog(t.TempDir() + "/missing.json")
	assert.Error(t, err)
}

func TestStaticRetriever(t *testing.T) {
	r := NewStaticRetriever(DefaultCatalog(), 2)

	got, err := r.Search(context.Background(), "cardiology hospitals in Chennai")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "Chennai")
	assert.Contains(t, got[1], "Chennai")

	got, err = r.Search(context.Background(), "hospitals on Mars")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// keywordEmbedder maps text onto a tiny fixed vocabulary.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
}

var vocab = []string{"chennai", "bengaluru", "coimbatore", "cardiology", "oncology", "ent"}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(vocab))
		for j, word := range vocab {
			if strings.Contains(lower, word) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func TestEmbeddingRetrieverPersistsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	writer := NewEmbeddingRetriever(&keywordEmbedder{}, client, 1, nil)
	require.NoError(t, writer.Index(ctx, DefaultCatalog()))

	n, err := client.LLen(ctx, defaultDocsKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, len(DefaultCatalog()), n)

	reader := NewEmbeddingRetriever(&keywordEmbedder{}, client, 1, nil)
	loaded, err := reader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog()), loaded)

	got, err := reader.Search(ctx, "oncology in Bengaluru")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Manipal Hospital")
}

func TestEmbeddingRetrieverEmptyIndex(t *testing.T) {
	emb := &keywordEmbedder{}
	r := NewEmbeddingRetriever(emb, nil, 3, nil)
	got, err := r.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, emb.calls, "no embedding call without documents")
}

func TestTypesenseRetriever(t *testing.T) {
	var (
		mu      sync.Mutex
		created bool
		indexed []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Typesense-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Forbidden"}`))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/hospitals":
			if !created {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"Not Found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"name":"hospitals","fields":[],"num_documents":0,"created_at":1}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections":
			created = true
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"name":"hospitals","fields":[],"num_documents":0,"created_at":1}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/hospitals/documents":
			var doc map[string]any
			_ = json.NewDecoder(r.Body).Decode(&doc)
			indexed = append(indexed, doc)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(doc)
		case r.Method == http.MethodGet && r.URL.Path == "/collections/hospitals/documents/search":
			assert.Equal(t, "cardiology chennai", r.URL.Query().Get("q"))
			assert.Equal(t, queryBy, r.URL.Query().Get("query_by"))
			_, _ = w.Write([]byte(`{"found":1,"out_of":4,"page":1,"search_time_ms":1,"hits":[{"document":{
				"id":"apollo-chennai","name":"Apollo Hospital","location":"Chennai",
				"specializations":["Cardiology","Neurology"],"doctors":["Dr. Priya Raman (Cardiology)"]
			},"highlights":[]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"unexpected route"}`))
		}
	}))
	defer srv.Close()

	r := NewTypesenseRetriever(srv.URL, "test-key", "", 3)
	ctx := context.Background()
	require.NoError(t, r.EnsureCollection(ctx))
	require.NoError(t, r.EnsureCollection(ctx), "second call sees the existing collection")
	require.NoError(t, r.Index(ctx, DefaultCatalog()[:2]))

	mu.Lock()
	assert.Len(t, indexed, 2)
	assert.Equal(t, "apollo-chennai", indexed[0]["id"])
	mu.Unlock()

	got, err := r.Search(ctx, "cardiology chennai")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Hospital: Apollo Hospital")
	assert.Contains(t, got[0], "Specializations: Cardiology, Neurology")
}
