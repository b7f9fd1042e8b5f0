package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return New(Config{
		BaseURL:        url,
		AuthToken:      "dev-token",
		RequestTimeout: 2 * time.Second,
		Retries:        1,
		Backoff:        time.Millisecond,
	})
}

func TestCreateThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer dev-token" {
			t.Errorf("missing bearer credential, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"thread_id": "t-1"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if id != "t-1" {
		t.Fatalf("expected thread t-1, got %q", id)
	}
}

func TestCreateThreadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).CreateThread(context.Background()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestSubmitRunPayload(t *testing.T) {
	var got map[string]any
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/threads/t-1/runs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "r-1"})
	}))
	defer srv.Close()

	runID, err := testClient(srv.URL).SubmitRun(context.Background(), "t-1", "a-1", "why is the sky blue", &RunOptions{AllowClarification: true})
	if err != nil {
		t.Fatalf("SubmitRun: %v", err)
	}
	if runID != "r-1" {
		t.Fatalf("expected run r-1, got %q", runID)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one submission, got %d", calls)
	}
	if got["assistant_id"] != "a-1" {
		t.Fatalf("assistant_id missing from payload: %v", got)
	}
	input := got["input"].(map[string]any)
	msgs := input["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "why is the sky blue" {
		t.Fatalf("unexpected message payload: %v", first)
	}
	cfg := got["config"].(map[string]any)
	configurable := cfg["configurable"].(map[string]any)
	if configurable["allow_clarification"] != true {
		t.Fatalf("allow_clarification not forwarded: %v", cfg)
	}
}

func TestSubmitRunNeverRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SubmitRun(context.Background(), "t-1", "a-1", "q", nil)
	if err == nil {
		t.Fatal("expected submission failure")
	}
	if calls != 1 {
		t.Fatalf("submit must not be retried, saw %d calls", calls)
	}
}

func TestRunStatusAndThreadState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/threads/t-1/runs/r-1":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "some_new_field": 42})
		case "/threads/t-1/state":
			_, _ = w.Write([]byte(`{"values":{"final_report":"Paris.","messages":[{"role":"ai","content":"Paris."}],"extra":"ignored"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	status, err := c.RunStatus(context.Background(), "t-1", "r-1")
	if err != nil {
		t.Fatalf("RunStatus: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("expected success, got %q", status)
	}

	state, err := c.ThreadState(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("ThreadState: %v", err)
	}
	if state.Values.FinalReport != "Paris." {
		t.Fatalf("expected final report, got %+v", state.Values)
	}
}

func TestIdempotentCallsRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flake", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]Assistant{{ID: "a-1", GraphID: "g", Name: "n"}})
	}))
	defer srv.Close()

	assistants, err := testClient(srv.URL).SearchAssistants(context.Background())
	if err != nil {
		t.Fatalf("SearchAssistants after retry: %v", err)
	}
	if len(assistants) != 1 || assistants[0].ID != "a-1" {
		t.Fatalf("unexpected assistants: %+v", assistants)
	}
	if calls != 2 {
		t.Fatalf("expected retry, saw %d calls", calls)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/docs" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !testClient(srv.URL).Health(context.Background()) {
		t.Fatal("expected healthy engine")
	}
	if testClient("http://127.0.0.1:1").Health(context.Background()) {
		t.Fatal("expected unreachable engine to be unhealthy")
	}
}
