// Package content holds the generated category pages: an SEO description
// and the top products of a category ranking.
package content

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("content: not found")
	ErrInvalidInput = errors.New("content: invalid input")
)

// Product is one row of a document's best-seller table.
type Product struct {
	Rank       int64  `json:"rank"`
	Title      string `json:"title"`
	Brand      string `json:"brand,omitempty"`
	CategoryL1 string `json:"category_l1,omitempty"`
	CategoryL2 string `json:"category_l2,omitempty"`
	CategoryL3 string `json:"category_l3,omitempty"`
	CategoryL4 string `json:"category_l4,omitempty"`
	CategoryL5 string `json:"category_l5,omitempty"`
}

// Document is one category page keyed by ID.
type Document struct {
	ID             string    `json:"id"`
	CategoryName   string    `json:"category_name"`
	SEODescription string    `json:"seo_description"`
	LastUpdated    time.Time `json:"last_updated"`
	TopProducts    []Product `json:"top_100_products"`
}

// Summary is the listing view of a Document.
type Summary struct {
	ID             string    `json:"id"`
	CategoryName   string    `json:"category_name"`
	SEODescription string    `json:"seo_description"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Store persists documents.
type Store interface {
	Get(ctx context.Context, id string) (Document, error)
	Put(ctx context.Context, doc Document) error
	List(ctx context.Context, limit int) ([]Summary, error)
}

// Validate normalises doc in place and checks the required fields.
func Validate(doc *Document) error {
	doc.ID = strings.TrimSpace(doc.ID)
	doc.CategoryName = strings.TrimSpace(doc.CategoryName)
	if doc.ID == "" || doc.CategoryName == "" {
		return ErrInvalidInput
	}
	if doc.TopProducts == nil {
		doc.TopProducts = []Product{}
	}
	sort.SliceStable(doc.TopProducts, func(i, j int) bool { return doc.TopProducts[i].Rank < doc.TopProducts[j].Rank })
	return nil
}

// InMemory is a Store for tests and single-process deployments.
type InMemory struct {
	mu   sync.RWMutex
	docs map[string]Document
	now  func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[string]Document), now: time.Now}
}

func (m *InMemory) Get(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[strings.TrimSpace(id)]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.TopProducts = append([]Product(nil), doc.TopProducts...)
	return doc, nil
}

// Put stores doc, stamping LastUpdated when it is zero.
func (m *InMemory) Put(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(&doc); err != nil {
		return err
	}
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = m.now().UTC()
	}
	doc.TopProducts = append([]Product(nil), doc.TopProducts...)
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	return nil
}

// List returns summaries, most recently updated first.
func (m *InMemory) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Summary, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, Summary{ID: d.ID, CategoryName: d.CategoryName, SEODescription: d.SEODescription, LastUpdated: d.LastUpdated})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
