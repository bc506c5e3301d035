package profile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ecompulse.app/internal/warehouse"
	"ecompulse.app/internal/warehouse/warehousetest"
)

func TestGetNotFound(t *testing.T) {
	svc := NewService(&warehousetest.Querier{}, "proj", "ds")
	if _, err := svc.Get(context.Background(), "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetDecodesRow(t *testing.T) {
	q := (&warehousetest.Querier{}).On(warehousetest.Reply{Match: "SELECT *", Rows: []warehouse.Row{{
		"id": "user-1", "name": "Ann", "email": "ann@example.com", "credits": "17", "tier": "starter",
		"createdAt": "1.7000064E9",
	}}})
	p, err := NewService(q, "proj", "ds").Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Credits != 17 || p.Tier != StarterTier || p.CreatedAt == nil || p.UpdatedAt != nil {
		t.Fatalf("profile = %#v", p)
	}
	call := q.Calls()[0]
	if !strings.Contains(call.Query, "`proj.ds.UserProfile`") || call.Params["userId"] != "user-1" {
		t.Fatalf("call = %#v", call)
	}
}

func TestEnsureCreatesStarterProfile(t *testing.T) {
	q := &warehousetest.Querier{}
	created, err := NewService(q, "proj", "ds").Ensure(context.Background(), "user-2", " Bob ", "bob@example.com")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatalf("expected profile to be created")
	}
	insert, ok := q.Find("INSERT INTO")
	if !ok {
		t.Fatalf("insert not issued")
	}
	if insert.Params["credits"] != StarterCredits || insert.Params["tier"] != StarterTier || insert.Params["name"] != "Bob" {
		t.Fatalf("insert params = %#v", insert.Params)
	}
}

func TestEnsureExisting(t *testing.T) {
	q := (&warehousetest.Querier{}).On(warehousetest.Reply{Match: "SELECT *", Rows: []warehouse.Row{{"id": "user-3", "credits": "5"}}})
	created, err := NewService(q, "proj", "ds").Ensure(context.Background(), "user-3", "", "")
	if err != nil || created {
		t.Fatalf("Ensure = %v, %v", created, err)
	}
	if _, ok := q.Find("INSERT INTO"); ok {
		t.Fatalf("existing profile must not be re-inserted")
	}
}

func TestDeductCredit(t *testing.T) {
	cases := []struct {
		name     string
		credits  string
		affected *int64
		wantErr  error
	}{
		{name: "deducts", credits: "3", affected: warehousetest.Affected(1)},
		{name: "no dml count", credits: "3"},
		{name: "empty balance", credits: "0", wantErr: ErrInsufficientCredits},
		{name: "drained concurrently", credits: "1", affected: warehousetest.Affected(0), wantErr: ErrInsufficientCredits},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := (&warehousetest.Querier{}).
				On(warehousetest.Reply{Match: "UPDATE", RowsAffected: tc.affected}).
				On(warehousetest.Reply{Match: "SELECT *", Rows: []warehouse.Row{{"id": "user-4", "credits": tc.credits}}})

			got, err := NewService(q, "proj", "ds").DeductCredit(context.Background(), "user-4")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeductCredit: %v", err)
			}
			// The balance comes from re-reading the row; the fake serves the
			// same row for every read.
			if got != 3 {
				t.Fatalf("remaining = %d, want re-read balance 3", got)
			}
			upd, ok := q.Find("UPDATE")
			if !ok || !strings.Contains(upd.Query, "credits > 0") {
				t.Fatalf("guarded update missing: %#v", upd)
			}
			if n := len(q.Calls()); n != 3 {
				t.Fatalf("expected read, update, re-read; got %d calls", n)
			}
		})
	}
}

func TestDeductCreditUnknownUser(t *testing.T) {
	_, err := NewService(&warehousetest.Querier{}, "proj", "ds").DeductCredit(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
