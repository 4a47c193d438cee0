package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/querydesk/querydesk/internal/assistant"
	"github.com/querydesk/querydesk/internal/lexicon"
	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/schema"
)

func TestRefreshFailureKeepsServingQueries(t *testing.T) {
	source := &scriptedSource{}
	store := newTestStore(t, source)
	if _, err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("initial Refresh() error = %v", err)
	}

	lex, err := lexicon.Default()
	if err != nil {
		t.Fatalf("lexicon.Default() error = %v", err)
	}
	generator := &promptRecorder{text: "SELECT po_no FROM \"PO_Pending\";"}
	service, err := assistant.NewService(assistant.Config{
		Snapshots: store,
		Lexicon:   lex,
		Generator: generator,
		Engine:    staticEngine{result: query.Result{Columns: []string{"po_no"}, Rows: []query.Row{{"po_no": "PO-7"}}}},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h := NewHandler(loadTestConfig(t, map[string]string{}), Dependencies{Assistant: service, Schema: store})

	source.fail(errors.New("catalog connection refused"))
	refresh := httptest.NewRecorder()
	h.ServeHTTP(refresh, httptest.NewRequest(http.MethodGet, "/ai/refresh", nil))
	if refresh.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh status = %d", refresh.Code)
	}
	body := decodeBody(t, refresh)
	if body["success"] != false {
		t.Fatalf("success = %v", body["success"])
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "catalog connection refused") {
		t.Fatalf("error = %v", body["error"])
	}
	if body["columns"] != float64(3) {
		t.Fatalf("columns = %v", body["columns"])
	}

	ask := httptest.NewRecorder()
	h.ServeHTTP(ask, httptest.NewRequest(http.MethodPost, "/ai/query", strings.NewReader(`{"question":"show pending purchase orders"}`)))
	if ask.Code != http.StatusOK {
		t.Fatalf("ask status = %d body=%s", ask.Code, ask.Body.String())
	}
	if !strings.Contains(generator.prompt, "PO_Pending\tpending_qty") {
		t.Fatalf("prompt should use prior snapshot:\n%s", generator.prompt)
	}
}

func TestRefreshEndpointReportsColumnCount(t *testing.T) {
	store := newTestStore(t, &scriptedSource{})
	h := NewHandler(loadTestConfig(t, map[string]string{}), Dependencies{Schema: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ai/refresh", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["columns"] != float64(3) {
		t.Fatalf("body = %#v", body)
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("unexpected error field: %#v", body)
	}
}

func TestSchemaStatusEndpoint(t *testing.T) {
	store := newTestStore(t, &scriptedSource{})
	h := NewHandler(loadTestConfig(t, map[string]string{}), Dependencies{Schema: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ai/schema", nil))
	body := decodeBody(t, rr)
	if body["initialized"] != false || body["stale"] != true || body["published_at"] != nil {
		t.Fatalf("uninitialized body = %#v", body)
	}

	if _, err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ai/schema", nil))
	body = decodeBody(t, rr)
	if body["initialized"] != true || body["stale"] != false || body["columns"] != float64(3) {
		t.Fatalf("body = %#v", body)
	}
	tables, _ := body["tables"].([]any)
	if len(tables) != 2 || tables[0] != "PO_Pending" || tables[1] != "Souda" {
		t.Fatalf("tables = %#v", body["tables"])
	}
}

func newTestStore(t *testing.T, source schema.Source) *schema.Store {
	t.Helper()
	return schema.NewStore(source)
}

type scriptedSource struct {
	mu  sync.Mutex
	err error
}

func (s *scriptedSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedSource) FetchColumns(context.Context) ([]schema.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []schema.Column{
		{TableName: "PO_Pending", ColumnName: "po_no", DataType: "text"},
		{TableName: "PO_Pending", ColumnName: "pending_qty", DataType: "numeric"},
		{TableName: "Souda", ColumnName: "souda_no", DataType: "text"},
	}, nil
}

type promptRecorder struct {
	text   string
	prompt string
}

func (p *promptRecorder) Generate(_ context.Context, prompt string) (string, error) {
	p.prompt = prompt
	return p.text, nil
}

type staticEngine struct {
	result query.Result
}

func (e staticEngine) Execute(context.Context, query.Request) (query.Result, error) {
	return e.result, nil
}
