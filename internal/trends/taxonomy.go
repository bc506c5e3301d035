package trends

import (
	"context"
	"fmt"

	"ecompulse.app/internal/warehouse"
)

// TaxonomyNode is one product category with its subcategories.
type TaxonomyNode struct {
	Code              int64           `json:"code"`
	CatalogName       string          `json:"catalog_name"`
	CatalogDepth      int64           `json:"catalog_depth"`
	ParentCatalogCode *int64          `json:"parent_catalog_code"`
	FullCatalogName   string          `json:"full_catalog_name"`
	Children          []*TaxonomyNode `json:"children"`
}

// TaxonomyTree loads the product taxonomy as a forest. Nodes whose parent is
// absent from the table become roots.
func (s *Service) TaxonomyTree(ctx context.Context) ([]*TaxonomyNode, error) {
	sql := fmt.Sprintf(`
		SELECT code, catalog_name, catalog_depth, parent_catalog_code, full_catalog_name
		FROM %s
		ORDER BY catalog_depth ASC, code ASC`, s.table(tableTaxonomy))
	rows, _, err := s.q.Query(ctx, warehouse.QueryRequest{Query: sql, Location: s.location})
	if err != nil {
		return nil, fmt.Errorf("taxonomy tree: %w", err)
	}
	return buildTaxonomy(rows), nil
}

func buildTaxonomy(rows []warehouse.Row) []*TaxonomyNode {
	nodes := make([]*TaxonomyNode, 0, len(rows))
	byCode := make(map[int64]*TaxonomyNode, len(rows))
	for _, r := range rows {
		n := &TaxonomyNode{
			Code:            int64Of(r, "code"),
			CatalogName:     r.String("catalog_name"),
			CatalogDepth:    int64Of(r, "catalog_depth"),
			FullCatalogName: r.String("full_catalog_name"),
			Children:        []*TaxonomyNode{},
		}
		if p, ok := r.Int64("parent_catalog_code"); ok && p != 0 {
			n.ParentCatalogCode = &p
		}
		nodes = append(nodes, n)
		byCode[n.Code] = n
	}

	roots := []*TaxonomyNode{}
	for _, n := range nodes {
		if n.ParentCatalogCode != nil {
			if parent, ok := byCode[*n.ParentCatalogCode]; ok && parent != n {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}
