package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Image is the first image-search hit for a product title.
type Image struct {
	URL   string
	Title string
	Link  string
}

// Searcher finds a representative image for a product title. A nil Image
// with a nil error means no hit.
type Searcher interface {
	Lookup(ctx context.Context, title string) (*Image, error)
}

// GoogleSearcher queries a Programmable Search Engine.
type GoogleSearcher struct {
	svc      *customsearch.Service
	engineID string
}

var errSearchConfig = errors.New("enrich: search api key and engine id are required")

// NewGoogleSearcher builds a searcher for engineID. Extra options such as
// option.WithEndpoint are passed to the generated client.
func NewGoogleSearcher(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	apiKey = strings.TrimSpace(apiKey)
	engineID = strings.TrimSpace(engineID)
	if apiKey == "" || engineID == "" {
		return nil, errSearchConfig
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("custom search client: %w", err)
	}
	return &GoogleSearcher{svc: svc, engineID: engineID}, nil
}

func (g *GoogleSearcher) Lookup(ctx context.Context, title string) (*Image, error) {
	res, err := g.svc.Cse.List().
		Cx(g.engineID).
		Q(title).
		SearchType("image").
		Num(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	hit := res.Items[0]
	img := &Image{URL: hit.Link, Title: hit.Title, Link: hit.Link}
	if hit.Image != nil && hit.Image.ContextLink != "" {
		img.Link = hit.Image.ContextLink
	}
	return img, nil
}
