// Package rag keeps embedded text fragments and answers similarity
// searches over them.
//
// Fragments are grouped in collections. A document added with AddDocument
// is split into paragraphs linked to their neighbours, so a hit can be read
// together with the text around it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/ports"
)

const (
	// DefaultThreshold is the minimum cosine similarity of a hit.
	DefaultThreshold = 0.75
	// DefaultLimit caps the hits of one search.
	DefaultLimit = 3
)

// ErrEmptyText is returned when a fragment or query has no text.
var ErrEmptyText = errors.New("rag: text cannot be empty")

// Fragment is one embedded piece of text.
type Fragment struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"-"`
	Previous   string         `json:"previous,omitempty"`
	Next       string         `json:"next,omitempty"`
	Parent     string         `json:"parent,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Hit is a search result.
type Hit struct {
	Fragment
	Score float64 `json:"score"`
}

// Index is an in-memory fragment index. It is safe for concurrent use.
type Index struct {
	embedder  ports.Embedder
	threshold float64
	limit     int
	logger    *slog.Logger
	newID     func() string

	mu        sync.RWMutex
	fragments map[string]*Fragment
	order     []string
}

// Option configures the Index.
type Option func(*Index)

// WithThreshold sets the minimum similarity of a hit.
func WithThreshold(t float64) Option {
	return func(i *Index) {
		i.threshold = t
	}
}

// WithLimit caps the hits of one search. Zero or less returns every hit.
func WithLimit(n int) Option {
	return func(i *Index) {
		i.limit = n
	}
}

// WithLogger sets the index logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// NewIndex creates an empty index embedding text with embedder.
func NewIndex(embedder ports.Embedder, opts ...Option) *Index {
	i := &Index{
		embedder:  embedder,
		threshold: DefaultThreshold,
		limit:     DefaultLimit,
		logger:    logging.NewNop(),
		newID:     uuid.NewString,
		fragments: make(map[string]*Fragment),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Len returns the number of stored fragments.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.fragments)
}

// Get returns a copy of the fragment with the given id.
func (i *Index) Get(id string) (Fragment, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	f, ok := i.fragments[id]
	if !ok {
		return Fragment{}, false
	}
	return *f, true
}

// Add stores f, embedding its text unless f already carries a vector.
// A missing id is generated. The stored fragment is returned.
func (i *Index) Add(ctx context.Context, f Fragment) (Fragment, error) {
	if strings.TrimSpace(f.Text) == "" {
		return Fragment{}, ErrEmptyText
	}
	if len(f.Embedding) == 0 {
		vec, err := i.embedder.Embed(ctx, f.Text)
		if err != nil {
			return Fragment{}, fmt.Errorf("embed fragment: %w", err)
		}
		f.Embedding = vec
	}
	if f.ID == "" {
		f.ID = i.newID()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.fragments[f.ID]; !ok {
		i.order = append(i.order, f.ID)
	}
	stored := f
	i.fragments[f.ID] = &stored
	return f, nil
}

// AddDocument splits text into paragraphs and stores them in collection,
// each linked to its neighbours. It returns the fragment ids in order.
func (i *Index) AddDocument(ctx context.Context, collection, text string) ([]string, error) {
	parts := Split(text)
	if len(parts) == 0 {
		return nil, ErrEmptyText
	}

	ids := make([]string, len(parts))
	for n := range parts {
		ids[n] = i.newID()
	}
	for n, part := range parts {
		f := Fragment{ID: ids[n], Collection: collection, Text: part, Parent: ids[0]}
		if n > 0 {
			f.Previous = ids[n-1]
		}
		if n < len(parts)-1 {
			f.Next = ids[n+1]
		}
		if _, err := i.Add(ctx, f); err != nil {
			return nil, err
		}
	}
	i.logger.Debug("document indexed", "collection", collection, "fragments", len(ids))
	return ids, nil
}

// Search embeds query and returns the fragments of the given collections
// whose similarity exceeds the threshold, best first. No collections
// searches every fragment.
func (i *Index) Search(ctx context.Context, query string, collections ...string) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyText
	}
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	allowed := make(map[string]bool, len(collections))
	for _, c := range collections {
		allowed[c] = true
	}

	i.mu.RLock()
	var hits []Hit
	for _, id := range i.order {
		f := i.fragments[id]
		if len(allowed) > 0 && !allowed[f.Collection] {
			continue
		}
		score := Cosine(vec, f.Embedding)
		if score > i.threshold {
			hits = append(hits, Hit{Fragment: *f, Score: score})
		}
	}
	i.mu.RUnlock()

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if i.limit > 0 && len(hits) > i.limit {
		hits = hits[:i.limit]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or with zero magnitude score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for k := range a {
		x, y := float64(a[k]), float64(b[k])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Split breaks text into trimmed paragraphs separated by blank lines.
func Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
