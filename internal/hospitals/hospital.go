package hospitals

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Retriever answers free-text hospital questions with ordered text passages.
type Retriever interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Hospital is one entry of the hospital catalog.
type Hospital struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Location        string   `json:"location"`
	Address         string   `json:"address,omitempty"`
	Specializations []string `json:"specializations"`
	Doctors         []string `json:"doctors,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// Passage renders the hospital as one text passage for the model.
func (h Hospital) Passage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hospital: %s\nLocation: %s", h.Name, h.Location)
	if h.Address != "" {
		fmt.Fprintf(&b, " (%s)", h.Address)
	}
	if len(h.Specializations) > 0 {
		fmt.Fprintf(&b, "\nSpecializations: %s", strings.Join(h.Specializations, ", "))
	}
	if len(h.Doctors) > 0 {
		fmt.Fprintf(&b, "\nDoctors: %s", strings.Join(h.Doctors, "; "))
	}
	if h.Description != "" {
		fmt.Fprintf(&b, "\n%s", h.Description)
	}
	return b.String()
}

//go:embed catalog.json
var defaultCatalog []byte

// DefaultCatalog returns the built-in demo catalog.
func DefaultCatalog() []Hospital {
	var out []Hospital
	if err := json.Unmarshal(defaultCatalog, &out); err != nil {
		panic(fmt.Sprintf("hospitals: embedded catalog is invalid: %v", err))
	}
	return out
}

// LoadCatalog reads a JSON array of hospitals from path, or returns the
// built-in catalog when path is empty.
func LoadCatalog(path string) ([]Hospital, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hospitals: read catalog: %w", err)
	}
	var out []Hospital
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("hospitals: parse catalog: %w", err)
	}
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = slug(out[i].Name + "-" + out[i].Location)
		}
	}
	return out, nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
