// Package warehouse is a small REST client for the analytical warehouse.
// It signs its own service-account assertion into a bearer token, runs
// parameterised queries, and streams rows into tables. Failures are never
// retried; callers own any retry policy.
package warehouse

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ecompulse.app/internal/obs"
)

const (
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	DefaultBaseURL  = "https://bigquery.googleapis.com/bigquery/v2"
	DefaultScope    = "https://www.googleapis.com/auth/bigquery"

	opToken  = "token"
	opQuery  = "query"
	opInsert = "insert"

	insertKind = "bigquery#tableDataInsertAllRequest"
)

// Querier is the read/DML surface the domain packages depend on.
type Querier interface {
	Query(ctx context.Context, req QueryRequest) ([]Row, *QueryResponse, error)
}

// Inserter is the streaming-insert surface.
type Inserter interface {
	Insert(ctx context.Context, datasetID, tableID string, rows []map[string]any) (*InsertResponse, error)
}

var (
	_ Querier  = (*Client)(nil)
	_ Inserter = (*Client)(nil)
)

// Client holds one credential and its cached bearer token. Construct it once
// and pass it to every consumer.
type Client struct {
	projectID string
	email     string
	keyID     string
	key       *rsa.PrivateKey

	http     *http.Client
	tokenURL string
	baseURL  string
	scope    string
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport (tests point it at httptest servers).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenURL overrides the identity token endpoint.
func WithTokenURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.tokenURL = u
		}
	}
}

// WithBaseURL overrides the query service root, e.g. "http://127.0.0.1:9050/bigquery/v2".
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.baseURL = u
		}
	}
}

// WithScope overrides the OAuth scope requested for the token.
func WithScope(scope string) Option {
	return func(c *Client) {
		if scope = strings.TrimSpace(scope); scope != "" {
			c.scope = scope
		}
	}
}

// WithClock injects the time source used for token issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a client for projectID. An empty projectID falls back to the
// credential's own project.
func New(projectID string, creds *Credentials, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, errors.New("warehouse: credentials are required")
	}
	key, err := parsePrivateKey(creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("warehouse: parse private key: %w", err)
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		projectID = strings.TrimSpace(creds.ProjectID)
	}
	if projectID == "" {
		return nil, errors.New("warehouse: project id is required")
	}

	c := &Client{
		projectID: projectID,
		email:     creds.ClientEmail,
		keyID:     creds.PrivateKeyID,
		key:       key,
		http:      http.DefaultClient,
		tokenURL:  DefaultTokenURL,
		baseURL:   DefaultBaseURL,
		scope:     DefaultScope,
		now:       time.Now,
	}
	if creds.TokenURI != "" {
		c.tokenURL = creds.TokenURI
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

// ProjectID returns the project queries are billed to.
func (c *Client) ProjectID() string { return c.projectID }

// Query runs a standard-SQL statement with named parameters and returns the
// decoded rows together with the full response (DML counts, job metadata).
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]Row, *QueryResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil, fmt.Errorf("%w: query text is empty", ErrQuery)
	}
	body := queryRequestBody{
		Query:           req.Query,
		UseLegacySQL:    false,
		ParameterMode:   "NAMED",
		QueryParameters: encodeParams(req.Params, req.Types),
		Location:        strings.TrimSpace(req.Location),
	}
	endpoint := c.baseURL + "/projects/" + url.PathEscape(c.projectID) + "/queries"

	raw, err := c.post(ctx, opQuery, endpoint, body, ErrQuery)
	if err != nil {
		return nil, nil, err
	}
	resp, err := decodeQueryResponse(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := resp.checkComplete(); err != nil {
		return nil, nil, err
	}
	rows, err := resp.Records()
	if err != nil {
		return nil, nil, err
	}
	return rows, resp, nil
}

// Insert streams rows into datasetID.tableID in a single request. A 2xx
// answer that still lists insertErrors fails with *InsertErrors.
func (c *Client) Insert(ctx context.Context, datasetID, tableID string, rows []map[string]any) (*InsertResponse, error) {
	datasetID = strings.TrimSpace(datasetID)
	tableID = strings.TrimSpace(tableID)
	if datasetID == "" || tableID == "" {
		return nil, fmt.Errorf("%w: dataset and table are required", ErrInsert)
	}
	if len(rows) == 0 {
		return &InsertResponse{}, nil
	}
	body := insertRequestBody{
		Kind: insertKind,
		Rows: make([]insertRow, 0, len(rows)),
	}
	for _, r := range rows {
		body.Rows = append(body.Rows, insertRow{JSON: r})
	}
	endpoint := fmt.Sprintf("%s/projects/%s/datasets/%s/tables/%s/insertAll",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(datasetID), url.PathEscape(tableID))

	raw, err := c.post(ctx, opInsert, endpoint, body, ErrInsert)
	if err != nil {
		return nil, err
	}
	var resp InsertResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode insert response: %w", ErrMalformedResponse, err)
	}
	resp.Raw = raw
	if len(resp.InsertErrors) > 0 {
		list, _ := json.Marshal(resp.InsertErrors)
		return &resp, &InsertErrors{Errors: resp.InsertErrors, Raw: string(list)}
	}
	return &resp, nil
}

// Dataset returns a handle scoping inserts to one dataset.
func (c *Client) Dataset(id string) *Dataset { return &Dataset{client: c, id: id} }

// Dataset is a named dataset within the client's project.
type Dataset struct {
	client *Client
	id     string
}

// Table returns a handle for one table in the dataset.
func (d *Dataset) Table(id string) *Table { return &Table{client: d.client, datasetID: d.id, id: id} }

// Table is a streaming-insert target.
type Table struct {
	client    *Client
	datasetID string
	id        string
}

// Insert streams rows into the table.
func (t *Table) Insert(ctx context.Context, rows []map[string]any) (*InsertResponse, error) {
	return t.client.Insert(ctx, t.datasetID, t.id, rows)
}

// TableRef renders a fully qualified, backtick-quoted table path for SQL text.
func TableRef(project, dataset, table string) string {
	return "`" + project + "." + dataset + "." + table + "`"
}

func (c *Client) post(ctx context.Context, op, endpoint string, payload any, kind error) ([]byte, error) {
	start := time.Now()
	body, err := c.doPost(ctx, op, endpoint, payload, kind)
	observe(op, start, err)
	return body, err
}

func (c *Client) doPost(ctx context.Context, op, endpoint string, payload any, kind error) ([]byte, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", kind, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", kind, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", kind, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: string(body), kind: kind}
	}
	return body, nil
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	obs.ObserveWarehouse(op, outcome, time.Since(start))
}

type queryRequestBody struct {
	Query           string           `json:"query"`
	UseLegacySQL    bool             `json:"useLegacySql"`
	ParameterMode   string           `json:"parameterMode"`
	QueryParameters []QueryParameter `json:"queryParameters,omitempty"`
	Location        string           `json:"location,omitempty"`
}

type insertRequestBody struct {
	Kind string      `json:"kind"`
	Rows []insertRow `json:"rows"`
}

type insertRow struct {
	JSON map[string]any `json:"json"`
}

// InsertResponse is the decoded insertAll answer.
type InsertResponse struct {
	Kind         string          `json:"kind"`
	InsertErrors []InsertError   `json:"insertErrors,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// InsertError lists the problems with the row at Index.
type InsertError struct {
	Index  int64        `json:"index"`
	Errors []ErrorProto `json:"errors"`
}

// ErrorProto is the provider's per-row error detail.
type ErrorProto struct {
	Reason    string `json:"reason,omitempty"`
	Location  string `json:"location,omitempty"`
	DebugInfo string `json:"debugInfo,omitempty"`
	Message   string `json:"message,omitempty"`
}
