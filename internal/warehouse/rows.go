package warehouse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one result record keyed by column name. Scalars arrive as strings
// (the service string-encodes every scalar); NULL is nil; nested RECORD and
// REPEATED cells keep their decoded JSON shape.
type Row map[string]any

// QueryResponse is the decoded query answer. Raw keeps the untouched body.
type QueryResponse struct {
	Kind               string          `json:"kind"`
	Schema             *Schema         `json:"schema,omitempty"`
	Rows               []TableRow      `json:"rows,omitempty"`
	TotalRows          string          `json:"totalRows,omitempty"`
	PageToken          string          `json:"pageToken,omitempty"`
	JobComplete        bool            `json:"jobComplete"`
	JobReference       *JobReference   `json:"jobReference,omitempty"`
	NumDMLAffectedRows string          `json:"numDmlAffectedRows,omitempty"`
	CacheHit           bool            `json:"cacheHit"`
	Raw                json.RawMessage `json:"-"`
}

// Schema lists result columns in position order.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Field describes one column.
type Field struct {
	Name   string  `json:"name"`
	Type   string  `json:"type,omitempty"`
	Mode   string  `json:"mode,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// TableRow is the wire row: cells in schema order.
type TableRow struct {
	F []TableCell `json:"f"`
}

// TableCell wraps one value.
type TableCell struct {
	V any `json:"v"`
}

// JobReference identifies the job that ran the statement.
type JobReference struct {
	ProjectID string `json:"projectId"`
	JobID     string `json:"jobId"`
	Location  string `json:"location,omitempty"`
}

func decodeQueryResponse(body []byte) (*QueryResponse, error) {
	var resp QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode query response: %w", ErrMalformedResponse, err)
	}
	resp.Raw = body
	return &resp, nil
}

// checkComplete rejects answers that carry only part of the result: a job
// still running, or a first page with more to fetch.
func (r *QueryResponse) checkComplete() error {
	if !r.JobComplete {
		return fmt.Errorf("%w: job not complete", ErrIncompleteResult)
	}
	if r.PageToken != "" {
		return fmt.Errorf("%w: more pages follow", ErrIncompleteResult)
	}
	if r.TotalRows != "" {
		total, err := strconv.ParseInt(r.TotalRows, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: totalRows %q", ErrMalformedResponse, r.TotalRows)
		}
		if total > int64(len(r.Rows)) {
			return fmt.Errorf("%w: %d of %d rows returned", ErrIncompleteResult, len(r.Rows), total)
		}
	}
	return nil
}

// Columns returns the schema field names in order.
func (r *QueryResponse) Columns() []string {
	if r == nil || r.Schema == nil {
		return nil
	}
	out := make([]string, len(r.Schema.Fields))
	for i, f := range r.Schema.Fields {
		out[i] = f.Name
	}
	return out
}

// Records maps every wire row onto its schema. An empty result is an empty
// slice; a row that does not line up with the schema is ErrMalformedResponse.
func (r *QueryResponse) Records() ([]Row, error) {
	out := make([]Row, 0, len(r.Rows))
	if len(r.Rows) == 0 {
		return out, nil
	}
	if r.Schema == nil || len(r.Schema.Fields) == 0 {
		return nil, fmt.Errorf("%w: %d rows without a schema", ErrMalformedResponse, len(r.Rows))
	}
	fields := r.Schema.Fields
	for i, row := range r.Rows {
		if len(row.F) != len(fields) {
			return nil, fmt.Errorf("%w: row %d has %d cells, schema has %d fields",
				ErrMalformedResponse, i, len(row.F), len(fields))
		}
		rec, err := recordOf(fields, row.F)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordOf(fields []Field, cells []TableCell) (Row, error) {
	rec := make(Row, len(fields))
	for j, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: schema field %d has no name", ErrMalformedResponse, j)
		}
		v, err := cellValue(f, cells[j].V)
		if err != nil {
			return nil, err
		}
		rec[f.Name] = v
	}
	return rec, nil
}

// cellValue unfolds REPEATED cells into slices and RECORD cells into Rows.
// Scalars pass through untouched.
func cellValue(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Mode == "REPEATED" {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %s: repeated cell is %T", ErrMalformedResponse, f.Name, v)
		}
		elem := f
		elem.Mode = ""
		out := make([]any, 0, len(items))
		for _, item := range items {
			wrapped, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: field %s: repeated item is %T", ErrMalformedResponse, f.Name, item)
			}
			ev, err := cellValue(elem, wrapped["v"])
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	}
	if f.Type != "RECORD" && f.Type != "STRUCT" {
		return v, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %s: record cell is %T", ErrMalformedResponse, f.Name, v)
	}
	raw, _ := obj["f"].([]any)
	if len(raw) != len(f.Fields) {
		return nil, fmt.Errorf("%w: field %s has %d cells, schema has %d fields",
			ErrMalformedResponse, f.Name, len(raw), len(f.Fields))
	}
	cells := make([]TableCell, len(raw))
	for i, c := range raw {
		m, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %s: cell %d is %T", ErrMalformedResponse, f.Name, i, c)
		}
		cells[i] = TableCell{V: m["v"]}
	}
	return recordOf(f.Fields, cells)
}

// RowsAffected reports numDmlAffectedRows when the statement was DML.
func (r *QueryResponse) RowsAffected() (int64, bool) {
	if r == nil || r.NumDMLAffectedRows == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(r.NumDMLAffectedRows, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns the column as text; NULL and missing columns are "".
func (r Row) String(name string) string {
	switch v := r[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int64 parses an integer column. Float-looking integers ("3.0") are accepted.
func (r Row) Int64(name string) (int64, bool) {
	s := strings.TrimSpace(r.String(name))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Float64 parses a FLOAT64/NUMERIC column.
func (r Row) Float64(name string) (float64, bool) {
	s := strings.TrimSpace(r.String(name))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool parses a BOOL column.
func (r Row) Bool(name string) (bool, bool) {
	b, err := strconv.ParseBool(strings.TrimSpace(r.String(name)))
	if err != nil {
		return false, false
	}
	return b, true
}

// Time parses a TIMESTAMP column. The query API encodes timestamps as
// floating-point epoch seconds ("1.7000064E9"); RFC 3339 text is accepted too.
func (r Row) Time(name string) (time.Time, bool) {
	s := strings.TrimSpace(r.String(name))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), true
	}
	for _, layout := range []string{time.RFC3339Nano, timestampLayout, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
