package hospitals

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
)

const (
	DefaultCollection = "hospitals"
	queryBy           = "name,location,specializations,doctors,description"
)

// TypesenseRetriever searches the hospital catalog held in a Typesense collection.
type TypesenseRetriever struct {
	client     *typesense.Client
	collection string
	topK       int
}

// NewTypesenseRetriever connects to Typesense at serverURL.
func NewTypesenseRetriever(serverURL, apiKey, collection string, topK int) *TypesenseRetriever {
	client := typesense.NewClient(
		typesense.WithServer(serverURL),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)
	if strings.TrimSpace(collection) == "" {
		collection = DefaultCollection
	}
	if topK <= 0 {
		topK = 5
	}
	return &TypesenseRetriever{client: client, collection: collection, topK: topK}
}

var _ Retriever = (*TypesenseRetriever)(nil)

// EnsureCollection creates the hospitals collection when it does not exist.
func (r *TypesenseRetriever) EnsureCollection(ctx context.Context) error {
	_, err := r.client.Collection(r.collection).Retrieve(ctx)
	if err == nil {
		return nil
	}
	var httpErr *typesense.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound {
		return fmt.Errorf("hospitals: retrieve collection: %w", err)
	}

	schema := &api.CollectionSchema{
		Name: r.collection,
		Fields: []api.Field{
			{Name: "name", Type: "string"},
			{Name: "location", Type: "string", Facet: pointer.True()},
			{Name: "address", Type: "string", Optional: pointer.True()},
			{Name: "specializations", Type: "string[]", Facet: pointer.True()},
			{Name: "doctors", Type: "string[]", Optional: pointer.True()},
			{Name: "description", Type: "string", Optional: pointer.True()},
		},
	}
	if _, err := r.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("hospitals: create collection: %w", err)
	}
	return nil
}

// Index upserts the catalog documents.
func (r *TypesenseRetriever) Index(ctx context.Context, catalog []Hospital) error {
	for _, h := range catalog {
		doc := map[string]interface{}{
			"id":              h.ID,
			"name":            h.Name,
			"location":        h.Location,
			"address":         h.Address,
			"specializations": nonNil(h.Specializations),
			"doctors":         nonNil(h.Doctors),
			"description":     h.Description,
		}
		if _, err := r.client.Collection(r.collection).Documents().Upsert(ctx, doc); err != nil {
			return fmt.Errorf("hospitals: index %s: %w", h.ID, err)
		}
	}
	return nil
}

func (r *TypesenseRetriever) Search(ctx context.Context, query string) ([]string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		q = "*"
	}
	params := &api.SearchCollectionParams{
		Q:       pointer.String(q),
		QueryBy: pointer.String(queryBy),
		PerPage: pointer.Int(r.topK),
	}
	result, err := r.client.Collection(r.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("hospitals: search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}
	out := make([]string, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		out = append(out, documentHospital(*hit.Document).Passage())
	}
	return out, nil
}

func documentHospital(doc map[string]interface{}) Hospital {
	str := func(key string) string {
		v, _ := doc[key].(string)
		return v
	}
	list := func(key string) []string {
		raw, _ := doc[key].([]interface{})
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return Hospital{
		ID:              str("id"),
		Name:            str("name"),
		Location:        str("location"),
		Address:         str("address"),
		Specializations: list("specializations"),
		Doctors:         list("doctors"),
		Description:     str("description"),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
