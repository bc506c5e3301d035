package subscriptions

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ecompulse.app/internal/mail"
	"ecompulse.app/internal/obs"
	"ecompulse.app/internal/warehouse"
	"ecompulse.app/internal/warehouse/warehousetest"
)

type stubMailer struct {
	mu   sync.Mutex
	err  error
	sent []mail.Message
}

func (m *stubMailer) Send(_ context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if m.err != nil {
		return "", m.err
	}
	return "msg-1", nil
}

func TestIsCategory(t *testing.T) {
	cases := map[string]bool{
		"US_536":     true,
		"_42":        true,
		"US_536x":    false,
		"desk lamp":  false,
		"US_":        false,
		"US_DE_536":  false,
		"standing_1": true,
	}
	for item, want := range cases {
		if got := IsCategory(item); got != want {
			t.Errorf("IsCategory(%q) = %v, want %v", item, got, want)
		}
	}
}

func TestSubscribe(t *testing.T) {
	q := &warehousetest.Querier{}
	m := &stubMailer{}
	links := WithUnsubscribeLinks(func(email, item string) (string, error) {
		return "https://app.example/api/unsubscribe?item=" + item + "&to=" + email, nil
	})
	err := NewService(q, "proj", "ds", WithMailer(m, "news@example.com"), links).Subscribe(context.Background(), Subscription{
		UserID: "user-1", Email: "ann@example.com", Categories: []string{"US_536", " ", "US_1"}, Keywords: "",
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	merge, ok := q.Find("MERGE INTO")
	if !ok {
		t.Fatalf("merge not issued")
	}
	cats, _ := merge.Params["categories"].(*string)
	if cats == nil || *cats != "US_536,US_1" {
		t.Fatalf("categories = %#v", merge.Params["categories"])
	}
	if kw, _ := merge.Params["keywords"].(*string); kw != nil {
		t.Fatalf("empty keywords should be NULL, got %q", *kw)
	}
	if len(m.sent) != 1 || m.sent[0].From != "news@example.com" || !strings.Contains(m.sent[0].HTML, "<li>US_536 (<a href=\"https://app.example/api/unsubscribe?item=US_536&amp;to=ann@example.com\">") {
		t.Fatalf("mail = %#v", m.sent)
	}
}

func TestSubscribeMailFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	m := &stubMailer{err: errors.New("provider down")}
	err := NewService(&warehousetest.Querier{}, "proj", "ds", WithMailer(m, "")).Subscribe(context.Background(), Subscription{
		UserID: "user-1", Email: "ann@example.com", Keywords: "lamp",
	})
	if err != nil {
		t.Fatalf("mail failure must not fail the subscription: %v", err)
	}
	if !strings.Contains(buf.String(), "subscription confirmation mail failed") {
		t.Fatalf("expected warning, got %s", buf.String())
	}
}

func TestSubscribeValidates(t *testing.T) {
	svc := NewService(&warehousetest.Querier{}, "proj", "ds")
	cases := []Subscription{
		{Email: "a@example.com", Keywords: "x"},
		{UserID: "u", Keywords: "x"},
		{UserID: "u", Email: "a@example.com", Categories: []string{" "}},
	}
	for _, sub := range cases {
		if err := svc.Subscribe(context.Background(), sub); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%#v: expected ErrInvalidInput, got %v", sub, err)
		}
	}
}

func TestGet(t *testing.T) {
	q := (&warehousetest.Querier{}).On(warehousetest.Reply{Match: "SELECT categories", Rows: []warehouse.Row{
		{"categories": "US_536", "keywords": nil},
	}})
	cur, err := NewService(q, "proj", "ds").Get(context.Background(), "user-1")
	if err != nil || cur.Categories != "US_536" || cur.Keywords != "" {
		t.Fatalf("Get = %#v, %v", cur, err)
	}

	cur, err = NewService(&warehousetest.Querier{}, "proj", "ds").Get(context.Background(), "user-2")
	if err != nil || cur != (Current{}) {
		t.Fatalf("absent Get = %#v, %v", cur, err)
	}
}

func TestUnsubscribe(t *testing.T) {
	row := warehouse.Row{"categories": "US_536,US_1", "keywords": "lamp,desk"}
	cases := []struct {
		name     string
		item     string
		category bool
		wantCats *string
		wantKw   *string
	}{
		{name: "category", item: "US_536", category: true, wantCats: strPtr("US_1"), wantKw: strPtr("lamp,desk")},
		{name: "keyword", item: "lamp", wantCats: strPtr("US_536,US_1"), wantKw: strPtr("desk")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := (&warehousetest.Querier{}).
				On(warehousetest.Reply{Match: "UPDATE", RowsAffected: warehousetest.Affected(1)}).
				On(warehousetest.Reply{Match: "SELECT categories", Rows: []warehouse.Row{row}})
			res, err := NewService(q, "proj", "ds").Unsubscribe(context.Background(), "ann@example.com", tc.item)
			if err != nil {
				t.Fatalf("Unsubscribe: %v", err)
			}
			if !res.Changed || res.IsCategory != tc.category {
				t.Fatalf("result = %#v", res)
			}
			upd, _ := q.Find("UPDATE")
			if got := upd.Params["categories"].(*string); *got != *tc.wantCats {
				t.Fatalf("categories = %q", *got)
			}
			if got := upd.Params["keywords"].(*string); *got != *tc.wantKw {
				t.Fatalf("keywords = %q", *got)
			}
		})
	}
}

func TestUnsubscribeLastItemWritesNull(t *testing.T) {
	q := (&warehousetest.Querier{}).
		On(warehousetest.Reply{Match: "UPDATE", RowsAffected: warehousetest.Affected(1)}).
		On(warehousetest.Reply{Match: "SELECT categories", Rows: []warehouse.Row{{"categories": "US_536", "keywords": nil}}})
	if _, err := NewService(q, "proj", "ds").Unsubscribe(context.Background(), "ann@example.com", "US_536"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	upd, _ := q.Find("UPDATE")
	if got, _ := upd.Params["categories"].(*string); got != nil {
		t.Fatalf("emptied list should be NULL, got %q", *got)
	}
}

func TestUnsubscribeUnchanged(t *testing.T) {
	q := (&warehousetest.Querier{}).On(warehousetest.Reply{Match: "SELECT categories", Rows: []warehouse.Row{{"categories": "US_1"}}})
	res, err := NewService(q, "proj", "ds").Unsubscribe(context.Background(), "ann@example.com", "US_536")
	if err != nil || res.Changed {
		t.Fatalf("Unsubscribe = %#v, %v", res, err)
	}
	if _, ok := q.Find("UPDATE"); ok {
		t.Fatalf("unchanged list must not be written")
	}
}

func TestUnsubscribeNotFound(t *testing.T) {
	_, err := NewService(&warehousetest.Querier{}, "proj", "ds").Unsubscribe(context.Background(), "ghost@example.com", "US_1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	q := (&warehousetest.Querier{}).
		On(warehousetest.Reply{Match: "UPDATE", RowsAffected: warehousetest.Affected(0)}).
		On(warehousetest.Reply{Match: "SELECT categories", Rows: []warehouse.Row{{"categories": "US_1"}}})
	_, err = NewService(q, "proj", "ds").Unsubscribe(context.Background(), "ann@example.com", "US_1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("vanished row: expected ErrNotFound, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
