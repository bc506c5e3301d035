package favorites

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ecompulse.app/internal/warehouse"
	"ecompulse.app/internal/warehouse/warehousetest"
)

func TestListPagesAndCounts(t *testing.T) {
	q := (&warehousetest.Querier{}).
		On(warehousetest.Reply{Match: "COUNT(*)", Rows: []warehouse.Row{{"total": "41"}}}).
		On(warehousetest.Reply{Match: "ORDER BY created_at DESC", Rows: []warehouse.Row{
			{"id": "f-1", "title": "Desk lamp", "rank": "4", "categroy_id": "536", "previous_rank": nil, "rank_timestamp": "1.7000064E9"},
		}})

	page, err := NewService(q, "proj", "ds").List(context.Background(), "user-1", 3, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 41 || page.PageSize != defaultPageSize || page.Page != 3 {
		t.Fatalf("page = %#v", page)
	}
	if len(page.Data) != 1 || page.Data[0].CategoryID != 536 || page.Data[0].PreviousRank != nil || page.Data[0].RankTimestamp == nil {
		t.Fatalf("data = %#v", page.Data)
	}

	list, _ := q.Find("ORDER BY created_at DESC")
	if list.Params["offset"] != 40 || list.Params["deleted"] != statusDelete {
		t.Fatalf("list params = %#v", list.Params)
	}
}

func TestListEmpty(t *testing.T) {
	page, err := NewService(&warehousetest.Querier{}, "proj", "ds").List(context.Background(), "user-1", 1, 500)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Data == nil || len(page.Data) != 0 || page.Total != 0 || page.PageSize != maxPageSize {
		t.Fatalf("page = %#v", page)
	}
}

func TestAdd(t *testing.T) {
	q := &warehousetest.Querier{}
	ts := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	err := NewService(q, "proj", "ds").Add(context.Background(), "user-1", Favorite{
		Title: " Desk lamp ", CountryCode: "US", CategoryID: 536, Rank: 4, RankTimestamp: &ts,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	insert, ok := q.Find("INSERT INTO")
	if !ok {
		t.Fatalf("insert not issued")
	}
	if !strings.Contains(insert.Query, "GENERATE_UUID()") {
		t.Fatalf("id should be generated remotely: %s", insert.Query)
	}
	if insert.Params["status"] != statusAdd || insert.Params["title"] != "Desk lamp" || insert.Params["username"] != "Unknown" {
		t.Fatalf("insert params = %#v", insert.Params)
	}
	if insert.Types["rank_timestamp"] != warehouse.TypeTimestamp {
		t.Fatalf("rank_timestamp should be typed")
	}
}

func TestAddDuplicate(t *testing.T) {
	q := (&warehousetest.Querier{}).On(warehousetest.Reply{Match: "SELECT 1", Rows: []warehouse.Row{{"hit": "1"}}})
	err := NewService(q, "proj", "ds").Add(context.Background(), "user-1", Favorite{Title: "Desk lamp", CountryCode: "US"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, ok := q.Find("INSERT INTO"); ok {
		t.Fatalf("duplicate must not be inserted")
	}
}

func TestAddValidates(t *testing.T) {
	err := NewService(&warehousetest.Querier{}, "proj", "ds").Add(context.Background(), "user-1", Favorite{CountryCode: "US"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	q := (&warehousetest.Querier{}).
		On(warehousetest.Reply{Match: "UPDATE", RowsAffected: warehousetest.Affected(1)}).
		On(warehousetest.Reply{Match: "SELECT id", Rows: []warehouse.Row{{"id": "f-1"}}})

	if err := NewService(q, "proj", "ds").Remove(context.Background(), "user-1", "f-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	upd, ok := q.Find("UPDATE")
	if !ok || upd.Params["deleted"] != statusDelete || upd.Params["userid"] != "user-1" {
		t.Fatalf("soft delete = %#v", upd)
	}
	if strings.Contains(upd.Query, "DELETE FROM") {
		t.Fatalf("rows must not be hard deleted")
	}
}

func TestRemoveNotOwned(t *testing.T) {
	q := &warehousetest.Querier{}
	err := NewService(q, "proj", "ds").Remove(context.Background(), "user-2", "f-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := q.Find("UPDATE"); ok {
		t.Fatalf("update issued for a favorite the user does not own")
	}
}
