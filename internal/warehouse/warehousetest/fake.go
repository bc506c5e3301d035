// Package warehousetest provides scripted in-process fakes of the warehouse
// Querier and Inserter for package tests.
package warehousetest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"ecompulse.app/internal/warehouse"
)

// Reply is the scripted answer for statements containing Match.
type Reply struct {
	Match        string
	Rows         []warehouse.Row
	RowsAffected *int64
	Err          error
}

// Querier answers each statement with the first Reply whose Match is a
// substring of the statement text. Unmatched statements return no rows.
type Querier struct {
	mu      sync.Mutex
	replies []Reply
	calls   []warehouse.QueryRequest
}

// On registers a reply and returns the fake for chaining.
func (q *Querier) On(r Reply) *Querier {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replies = append(q.replies, r)
	return q
}

// Query records req and returns the matching scripted reply.
func (q *Querier) Query(ctx context.Context, req warehouse.QueryRequest) ([]warehouse.Row, *warehouse.QueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	q.mu.Lock()
	q.calls = append(q.calls, req)
	var match *Reply
	for i := range q.replies {
		if strings.Contains(req.Query, q.replies[i].Match) {
			match = &q.replies[i]
			break
		}
	}
	q.mu.Unlock()

	resp := &warehouse.QueryResponse{Kind: "bigquery#queryResponse", JobComplete: true}
	if match == nil {
		return []warehouse.Row{}, resp, nil
	}
	if match.Err != nil {
		return nil, nil, match.Err
	}
	if match.RowsAffected != nil {
		resp.NumDMLAffectedRows = strconv.FormatInt(*match.RowsAffected, 10)
	}
	rows := make([]warehouse.Row, len(match.Rows))
	copy(rows, match.Rows)
	resp.TotalRows = strconv.Itoa(len(rows))
	return rows, resp, nil
}

// Calls returns the statements seen so far.
func (q *Querier) Calls() []warehouse.QueryRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]warehouse.QueryRequest(nil), q.calls...)
}

// Find returns the first recorded call whose text contains substr.
func (q *Querier) Find(substr string) (warehouse.QueryRequest, bool) {
	for _, c := range q.Calls() {
		if strings.Contains(c.Query, substr) {
			return c, true
		}
	}
	return warehouse.QueryRequest{}, false
}

// Affected is shorthand for a DML row count.
func Affected(n int64) *int64 { return &n }

// InsertCall is one recorded streaming insert.
type InsertCall struct {
	Dataset string
	Table   string
	Rows    []map[string]any
}

// Inserter records inserts and fails with Err when set.
type Inserter struct {
	mu    sync.Mutex
	Err   error
	calls []InsertCall
}

func (f *Inserter) Insert(ctx context.Context, datasetID, tableID string, rows []map[string]any) (*warehouse.InsertResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if datasetID == "" || tableID == "" {
		return nil, fmt.Errorf("%w: dataset and table are required", warehouse.ErrInsert)
	}
	f.calls = append(f.calls, InsertCall{Dataset: datasetID, Table: tableID, Rows: rows})
	if f.Err != nil {
		return nil, f.Err
	}
	return &warehouse.InsertResponse{Kind: "bigquery#tableDataInsertAllResponse"}, nil
}

// Calls returns the inserts seen so far.
func (f *Inserter) Calls() []InsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InsertCall(nil), f.calls...)
}
