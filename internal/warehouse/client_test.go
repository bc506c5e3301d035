package warehouse

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestQueryMapsRowsOntoSchema(t *testing.T) {
	fb := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) {
		fb.queryReply = `{
			"kind": "bigquery#queryResponse",
			"schema": {"fields": [{"name": "rank", "type": "INTEGER"}, {"name": "title", "type": "STRING"}]},
			"rows": [{"f": [{"v": "1"}, {"v": "Widget"}]}, {"f": [{"v": "2"}, {"v": null}]}],
			"totalRows": "2",
			"jobComplete": true,
			"jobReference": {"projectId": "test-project", "jobId": "job_1", "location": "US"}
		}`
	})
	c := fb.client()

	rows, resp, err := c.Query(context.Background(), QueryRequest{Query: "SELECT rank, title FROM t"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["rank"] != "1" || rows[0]["title"] != "Widget" {
		t.Fatalf("row 0 = %#v", rows[0])
	}
	if v, ok := rows[1]["title"]; !ok || v != nil {
		t.Fatalf("NULL cell should be present and nil, got %#v", rows[1])
	}
	if n, ok := rows[0].Int64("rank"); !ok || n != 1 {
		t.Fatalf("Int64(rank) = %d, %v", n, ok)
	}
	if resp.TotalRows != "2" || !resp.JobComplete || resp.JobReference.JobID != "job_1" {
		t.Fatalf("metadata not decoded: %#v", resp)
	}
	if got := strings.Join(resp.Columns(), ","); got != "rank,title" {
		t.Fatalf("Columns() = %q", got)
	}
	if len(resp.Raw) == 0 {
		t.Fatalf("raw body not kept")
	}

	fb.mu.Lock()
	auth := fb.authHeaders[len(fb.authHeaders)-1]
	fb.mu.Unlock()
	if auth != "Bearer tok-1" {
		t.Fatalf("Authorization = %q", auth)
	}
	body := fb.lastQuery()
	if body.UseLegacySQL || body.ParameterMode != "NAMED" {
		t.Fatalf("request body = %#v", body)
	}
}

func TestQueryEmptyResult(t *testing.T) {
	for name, reply := range map[string]string{
		"empty rows":  `{"schema":{"fields":[{"name":"a"}]},"rows":[],"jobComplete":true}`,
		"absent rows": `{"schema":{"fields":[{"name":"a"}]},"totalRows":"0","jobComplete":true}`,
		"no schema":   `{"jobComplete":true}`,
	} {
		reply := reply
		t.Run(name, func(t *testing.T) {
			fb := newFakeBackend(t)
			fb.set(func(fb *fakeBackend) { fb.queryReply = reply })
			rows, _, err := fb.client().Query(context.Background(), QueryRequest{Query: "SELECT 1"})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if rows == nil || len(rows) != 0 {
				t.Fatalf("expected empty non-nil rows, got %#v", rows)
			}
		})
	}
}

func TestQueryMalformedRows(t *testing.T) {
	cases := map[string]string{
		"cell count":     `{"jobComplete":true,"schema":{"fields":[{"name":"a"},{"name":"b"}]},"rows":[{"f":[{"v":"1"}]}]}`,
		"rows no schema": `{"jobComplete":true,"rows":[{"f":[{"v":"1"}]}]}`,
		"not json":       `<html>oops</html>`,
	}
	for name, reply := range cases {
		reply := reply
		t.Run(name, func(t *testing.T) {
			fb := newFakeBackend(t)
			fb.set(func(fb *fakeBackend) { fb.queryReply = reply })
			rows, _, err := fb.client().Query(context.Background(), QueryRequest{Query: "SELECT 1"})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
			if rows != nil {
				t.Fatalf("expected no rows, got %#v", rows)
			}
		})
	}
}

func TestQueryIncompleteResult(t *testing.T) {
	cases := map[string]string{
		"job running": `{"jobComplete":false,"jobReference":{"projectId":"test-project","jobId":"job_2"}}`,
		"more pages": `{"schema":{"fields":[{"name":"a"}]},"rows":[{"f":[{"v":"1"}]}],
			"totalRows":"3","pageToken":"BFX2","jobComplete":true}`,
		"short rows": `{"schema":{"fields":[{"name":"a"}]},"rows":[{"f":[{"v":"1"}]}],
			"totalRows":"3","jobComplete":true}`,
	}
	for name, reply := range cases {
		reply := reply
		t.Run(name, func(t *testing.T) {
			fb := newFakeBackend(t)
			fb.set(func(fb *fakeBackend) { fb.queryReply = reply })
			rows, resp, err := fb.client().Query(context.Background(), QueryRequest{Query: "SELECT a FROM t"})
			if !errors.Is(err, ErrIncompleteResult) || !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrIncompleteResult, got %v", err)
			}
			if rows != nil || resp != nil {
				t.Fatalf("expected no partial result, got %d rows", len(rows))
			}
		})
	}
}

func TestQueryRemoteFailureKeepsProviderText(t *testing.T) {
	fb := newFakeBackend(t)
	const providerText = `{"error":{"code":400,"message":"Unrecognized name: titel at [1:8]","status":"INVALID_ARGUMENT"}}`
	fb.set(func(fb *fakeBackend) {
		fb.queryStatus = http.StatusBadRequest
		fb.queryReply = providerText
	})

	rows, resp, err := fb.client().Query(context.Background(), QueryRequest{Query: "SELECT titel FROM t"})
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
	if rows != nil || resp != nil {
		t.Fatalf("expected no partial result")
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusBadRequest || re.Body != providerText {
		t.Fatalf("RemoteError = %#v", re)
	}
	if !strings.Contains(err.Error(), "Unrecognized name: titel") {
		t.Fatalf("error lost provider text: %v", err)
	}
}

func TestQueryRejectsEmptyText(t *testing.T) {
	fb := newFakeBackend(t)
	_, _, err := fb.client().Query(context.Background(), QueryRequest{Query: "   "})
	if !errors.Is(err, ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
	if got := fb.tokenCalls.Load(); got != 0 {
		t.Fatalf("no remote call expected, token calls = %d", got)
	}
}

func TestQueryParameterEncoding(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.client()
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))
	var missing *int64

	_, _, err := c.Query(context.Background(), QueryRequest{
		Query: "SELECT @a",
		Params: map[string]any{
			"limit":    42,
			"price":    19.5,
			"active":   true,
			"since":    ts,
			"title":    "lamp",
			"category": "123",
			"gone":     nil,
			"prev":     missing,
		},
		Types:    map[string]string{"category": TypeInt64},
		Location: "US",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	body := fb.lastQuery()
	if body.Location != "US" {
		t.Fatalf("location = %q", body.Location)
	}
	got := map[string]QueryParameter{}
	var order []string
	for _, p := range body.QueryParameters {
		got[p.Name] = p
		order = append(order, p.Name)
	}
	if strings.Join(order, ",") != "active,category,gone,limit,prev,price,since,title" {
		t.Fatalf("parameters not in name order: %v", order)
	}

	want := []struct {
		name, typ string
		value     *string
	}{
		{"limit", TypeInt64, strPtr("42")},
		{"price", TypeFloat64, strPtr("19.5")},
		{"active", TypeBool, strPtr("true")},
		{"since", TypeTimestamp, strPtr("2024-03-04 04:06:07+00:00")},
		{"title", TypeString, strPtr("lamp")},
		{"category", TypeInt64, strPtr("123")},
		{"gone", TypeString, nil},
		{"prev", TypeInt64, nil},
	}
	for _, w := range want {
		p := got[w.name]
		if p.ParameterType.Type != w.typ {
			t.Errorf("%s type = %q, want %q", w.name, p.ParameterType.Type, w.typ)
		}
		switch {
		case w.value == nil && p.ParameterValue.Value != nil:
			t.Errorf("%s value = %q, want NULL", w.name, *p.ParameterValue.Value)
		case w.value != nil && (p.ParameterValue.Value == nil || *p.ParameterValue.Value != *w.value):
			t.Errorf("%s value = %v, want %q", w.name, p.ParameterValue.Value, *w.value)
		}
	}
}

func TestInsert(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.client()

	rows := []map[string]any{{"title": "Widget", "rank": 1}, {"title": "Gadget", "rank": 2}}
	resp, err := c.Dataset("new_gmc_data").Table("product_week_rank_enriched").Insert(context.Background(), rows)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if resp.Kind != "bigquery#tableDataInsertAllResponse" {
		t.Fatalf("kind = %q", resp.Kind)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.insertPaths) != 1 {
		t.Fatalf("expected one insert request, got %d", len(fb.insertPaths))
	}
	if want := "/bigquery/v2/projects/test-project/datasets/new_gmc_data/tables/product_week_rank_enriched/insertAll"; fb.insertPaths[0] != want {
		t.Fatalf("path = %q", fb.insertPaths[0])
	}
	body := fb.insertBody[0]
	if body.Kind != insertKind || len(body.Rows) != 2 || body.Rows[1].JSON["title"] != "Gadget" {
		t.Fatalf("insert body = %#v", body)
	}
}

func TestInsertErrorsFailDespite200(t *testing.T) {
	fb := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) {
		fb.insertReply = `{"kind":"bigquery#tableDataInsertAllResponse","insertErrors":[{"index":1,"errors":[{"reason":"invalid","location":"rank","message":"Cannot convert value to integer"}]}]}`
	})

	resp, err := fb.client().Insert(context.Background(), "d", "t", []map[string]any{{"rank": 1}, {"rank": "x"}})
	if !errors.Is(err, ErrPartialInsert) || !errors.Is(err, ErrInsert) {
		t.Fatalf("expected partial insert failure, got %v", err)
	}
	var ie *InsertErrors
	if !errors.As(err, &ie) || len(ie.Errors) != 1 || ie.Errors[0].Index != 1 {
		t.Fatalf("InsertErrors = %#v", ie)
	}
	if !strings.Contains(err.Error(), "Cannot convert value to integer") {
		t.Fatalf("error lost provider text: %v", err)
	}
	if resp == nil || len(resp.InsertErrors) != 1 {
		t.Fatalf("response should still be returned: %#v", resp)
	}
}

func TestInsertEmptyRowsSkipsRemote(t *testing.T) {
	fb := newFakeBackend(t)
	resp, err := fb.client().Insert(context.Background(), "d", "t", nil)
	if err != nil || resp == nil {
		t.Fatalf("Insert(nil) = %v, %v", resp, err)
	}
	if got := fb.tokenCalls.Load(); got != 0 {
		t.Fatalf("no remote call expected, token calls = %d", got)
	}
	if _, err := fb.client().Insert(context.Background(), "", "t", []map[string]any{{"a": 1}}); !errors.Is(err, ErrInsert) {
		t.Fatalf("missing dataset should be ErrInsert, got %v", err)
	}
}

func TestTokenFailureSurfacesFromQuery(t *testing.T) {
	fb := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.tokenFail = `{"error":"invalid_client"}` })

	_, _, err := fb.client().Query(context.Background(), QueryRequest{Query: "SELECT 1"})
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid_client") {
		t.Fatalf("error lost provider text: %v", err)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.queryBodies) != 0 {
		t.Fatalf("query should not be sent without a token")
	}
}

func TestRowTypedAccessors(t *testing.T) {
	r := Row{
		"n":   "3.0",
		"f":   "1.25",
		"b":   "true",
		"ts":  "1.7000064E9",
		"iso": "2024-01-02T03:04:05Z",
		"nil": nil,
	}
	if n, ok := r.Int64("n"); !ok || n != 3 {
		t.Fatalf("Int64 = %d %v", n, ok)
	}
	if f, ok := r.Float64("f"); !ok || f != 1.25 {
		t.Fatalf("Float64 = %v %v", f, ok)
	}
	if b, ok := r.Bool("b"); !ok || !b {
		t.Fatalf("Bool = %v %v", b, ok)
	}
	if ts, ok := r.Time("ts"); !ok || !ts.Equal(time.Unix(1_700_006_400, 0)) {
		t.Fatalf("Time(ts) = %v %v", ts, ok)
	}
	if ts, ok := r.Time("iso"); !ok || ts.Year() != 2024 {
		t.Fatalf("Time(iso) = %v %v", ts, ok)
	}
	if _, ok := r.Int64("nil"); ok {
		t.Fatalf("NULL should not parse")
	}
	if r.String("missing") != "" {
		t.Fatalf("missing column should be empty")
	}
}

func TestTableRef(t *testing.T) {
	if got := TableRef("p", "d", "t"); got != "`p.d.t`" {
		t.Fatalf("TableRef = %s", got)
	}
}

func strPtr(s string) *string { return &s }

func TestQueryNestedRecords(t *testing.T) {
	fb := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) {
		fb.queryReply = `{
			"jobComplete": true,
			"schema": {"fields": [
				{"name": "rank", "type": "INTEGER"},
				{"name": "price_range", "type": "RECORD", "fields": [{"name": "min", "type": "NUMERIC"}, {"name": "max", "type": "NUMERIC"}]},
				{"name": "product_title", "type": "RECORD", "mode": "REPEATED", "fields": [{"name": "locale"}, {"name": "name"}]},
				{"name": "gtins", "type": "STRING", "mode": "REPEATED"}
			]},
			"rows": [{"f": [
				{"v": "3"},
				{"v": {"f": [{"v": "9.99"}, {"v": "19.99"}]}},
				{"v": [{"v": {"f": [{"v": "en-US"}, {"v": "Desk lamp"}]}}]},
				{"v": [{"v": "0123"}, {"v": "0456"}]}
			]}]
		}`
	})

	rows, _, err := fb.client().Query(context.Background(), QueryRequest{Query: "SELECT *"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	price, ok := rows[0]["price_range"].(Row)
	if !ok || price["max"] != "19.99" {
		t.Fatalf("price_range = %#v", rows[0]["price_range"])
	}
	titles, ok := rows[0]["product_title"].([]any)
	if !ok || len(titles) != 1 || titles[0].(Row)["name"] != "Desk lamp" {
		t.Fatalf("product_title = %#v", rows[0]["product_title"])
	}
	gtins, ok := rows[0]["gtins"].([]any)
	if !ok || len(gtins) != 2 || gtins[1] != "0456" {
		t.Fatalf("gtins = %#v", rows[0]["gtins"])
	}
}
