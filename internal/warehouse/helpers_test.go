package warehouse

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testEmail = "svc@test-project.iam.gserviceaccount.com"

type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	tokenCalls atomic.Int64
	tokenTTL   int64
	tokenFail  string

	mu          sync.Mutex
	assertions  []string
	queryBodies []queryRequestBody
	insertPaths []string
	insertBody  []insertRequestBody
	authHeaders []string

	queryStatus int
	queryReply  string
	insertReply string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fb := &fakeBackend{
		t:           t,
		key:         key,
		tokenTTL:    3600,
		queryStatus: http.StatusOK,
		queryReply:  `{"kind":"bigquery#queryResponse","jobComplete":true,"rows":[]}`,
		insertReply: `{"kind":"bigquery#tableDataInsertAllResponse"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", fb.handleToken)
	mux.HandleFunc("/bigquery/v2/", fb.handleAPI)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fb.tokenCalls.Add(1)
	if r.PostForm.Get("grant_type") != jwtBearerGrant {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}
	fb.mu.Lock()
	fb.assertions = append(fb.assertions, r.PostForm.Get("assertion"))
	fail, ttl := fb.tokenFail, fb.tokenTTL
	fb.mu.Unlock()
	if fail != "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, fail)
		return
	}
	n := fb.tokenCalls.Load()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "tok-" + strconv.FormatInt(n, 10),
		"expires_in":   ttl,
		"token_type":   "Bearer",
	})
}

func (fb *fakeBackend) handleAPI(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fb.mu.Lock()
	fb.authHeaders = append(fb.authHeaders, r.Header.Get("Authorization"))
	fb.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/queries"):
		var qb queryRequestBody
		if err := json.Unmarshal(body, &qb); err != nil {
			fb.t.Errorf("decode query body: %v", err)
		}
		fb.mu.Lock()
		fb.queryBodies = append(fb.queryBodies, qb)
		status, reply := fb.queryStatus, fb.queryReply
		fb.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	case strings.HasSuffix(r.URL.Path, "/insertAll"):
		var ib insertRequestBody
		if err := json.Unmarshal(body, &ib); err != nil {
			fb.t.Errorf("decode insert body: %v", err)
		}
		fb.mu.Lock()
		fb.insertPaths = append(fb.insertPaths, r.URL.Path)
		fb.insertBody = append(fb.insertBody, ib)
		reply := fb.insertReply
		fb.mu.Unlock()
		_, _ = io.WriteString(w, reply)
	default:
		http.NotFound(w, r)
	}
}

// set mutates backend behaviour under the lock the handlers read it with.
func (fb *fakeBackend) set(fn func(fb *fakeBackend)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fn(fb)
}

func (fb *fakeBackend) signedAssertions() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.assertions...)
}

func (fb *fakeBackend) lastQuery() queryRequestBody {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.queryBodies) == 0 {
		fb.t.Fatalf("no query request recorded")
	}
	return fb.queryBodies[len(fb.queryBodies)-1]
}

func (fb *fakeBackend) credentials() *Credentials {
	der, err := x509.MarshalPKCS8PrivateKey(fb.key)
	if err != nil {
		fb.t.Fatalf("marshal key: %v", err)
	}
	pemText := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return &Credentials{
		Type:         "service_account",
		ProjectID:    "test-project",
		PrivateKeyID: "kid-1",
		PrivateKey:   string(pemText),
		ClientEmail:  testEmail,
	}
}

func (fb *fakeBackend) client(opts ...Option) *Client {
	fb.t.Helper()
	base := []Option{
		WithHTTPClient(fb.srv.Client()),
		WithTokenURL(fb.srv.URL + "/token"),
		WithBaseURL(fb.srv.URL + "/bigquery/v2"),
	}
	c, err := New("", fb.credentials(), append(base, opts...)...)
	if err != nil {
		fb.t.Fatalf("New: %v", err)
	}
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
