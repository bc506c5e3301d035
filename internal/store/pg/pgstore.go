// Package pg implements the content store on PostgreSQL through pgx.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ecompulse.app/internal/content"
)

const defaultListLimit = 100

// ContentStore keeps documents in the site_content table; products are a
// JSONB array.
type ContentStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ content.Store = (*ContentStore)(nil)

// Open connects with the pgx stdlib driver.
func Open(dsn string) (*ContentStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *ContentStore {
	return &ContentStore{db: db, now: time.Now}
}

func (s *ContentStore) Close() error { return s.db.Close() }

func (s *ContentStore) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *ContentStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *ContentStore) Get(ctx context.Context, id string) (content.Document, error) {
	var (
		doc      content.Document
		products []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, category_name, seo_description, top_products, last_updated
		from site_content where id = $1
	`, id).Scan(&doc.ID, &doc.CategoryName, &doc.SEODescription, &products, &doc.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Document{}, content.ErrNotFound
	}
	if err != nil {
		return content.Document{}, err
	}
	if err := json.Unmarshal(products, &doc.TopProducts); err != nil {
		return content.Document{}, fmt.Errorf("decode products of %s: %w", id, err)
	}
	if doc.TopProducts == nil {
		doc.TopProducts = []content.Product{}
	}
	doc.LastUpdated = doc.LastUpdated.UTC()
	return doc, nil
}

// Put upserts doc. A zero LastUpdated is stamped with the current time.
func (s *ContentStore) Put(ctx context.Context, doc content.Document) error {
	if err := content.Validate(&doc); err != nil {
		return err
	}
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = s.now().UTC()
	}
	products, err := json.Marshal(doc.TopProducts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into site_content(id, category_name, seo_description, top_products, last_updated)
		values ($1, $2, $3, $4::jsonb, $5)
		on conflict (id) do update
		set category_name = excluded.category_name,
			seo_description = excluded.seo_description,
			top_products = excluded.top_products,
			last_updated = excluded.last_updated
	`, doc.ID, doc.CategoryName, doc.SEODescription, string(products), doc.LastUpdated)
	return err
}

func (s *ContentStore) List(ctx context.Context, limit int) ([]content.Summary, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, category_name, seo_description, last_updated
		from site_content
		order by last_updated desc, id asc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []content.Summary{}
	for rows.Next() {
		var sum content.Summary
		if err := rows.Scan(&sum.ID, &sum.CategoryName, &sum.SEODescription, &sum.LastUpdated); err != nil {
			return nil, err
		}
		sum.LastUpdated = sum.LastUpdated.UTC()
		res = append(res, sum)
	}
	return res, rows.Err()
}
