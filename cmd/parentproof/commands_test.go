package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/parentproof/internal/answer"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

type cannedResponse struct {
	status  int
	body    string
	headers map[string]string
}

func newTestServer(t *testing.T, responses map[string]cannedResponse) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			for k, v := range resp.headers {
				w.Header().Set(k, v)
			}
			w.Header().Set("Content-Type", "application/json")
			if resp.status != 0 {
				w.WriteHeader(resp.status)
			}
			w.Write([]byte(resp.body))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

const answerJSON = `{"pros":["Reduces anemia [1]"],"cons":["May cause constipation [1]"],"citations":[{"id":1,"text":"Iron in pregnancy","url":"https://pubmed.ncbi.nlm.nih.gov/1"}]}`

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /answer": {body: answerJSON, headers: map[string]string{"X-Cache": "MISS"}},
	})

	orig := newUserClient
	defer func() { newUserClient = orig }()
	newUserClient = func(string) (*apiClient, error) { return ts.client(), nil }

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs([]string{"ask", "--json", "should", "I", "take", "iron?"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "should I take iron?" {
		t.Errorf("question = %q", body["question"])
	}

	var got answer.Answer
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(got.Pros) != 1 || got.Citations[0].URL == "" {
		t.Errorf("unexpected answer: %+v", got)
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing question")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention args", err.Error())
	}
}

func TestPrintAnswer(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var a answer.Answer
	if err := json.Unmarshal([]byte(answerJSON), &a); err != nil {
		t.Fatal(err)
	}
	a.Cons = []string{}

	var buf bytes.Buffer
	printAnswer(&buf, a)
	out := buf.String()

	for _, want := range []string{"Pros", "• Reduces anemia [1]", "Cons\n  (none)", "[1] Iron in pregnancy", "https://pubmed.ncbi.nlm.nih.gov/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /answer": {
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"daily request limit reached; resets in 3 hours","type":"quota_exceeded"},"reset_at":"2026-03-11T05:00:00Z"}`,
		},
	})

	resp, err := ts.client().post(ctx, "/answer", map[string]string{"question": "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var a answer.Answer
	err = decodeJSON(resp, &a)

	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apiError, got %T: %v", err, err)
	}
	if ae.Status != 429 || ae.Type != "quota_exceeded" {
		t.Errorf("unexpected error: %+v", ae)
	}
	if !strings.Contains(err.Error(), "resets in 3 hours") {
		t.Errorf("error = %q", err)
	}
}

func TestDecodeJSON_PlainBody(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /quota": {status: http.StatusBadGateway, body: "upstream down"},
	})

	resp, err := ts.client().get(ctx, "/quota")
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil || !strings.Contains(err.Error(), "502: upstream down") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_Stopped(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestParseImport(t *testing.T) {
	entry := `{"question":"Is folic acid needed?","answer":` + answerJSON + `}`

	for _, data := range []string{"[" + entry + "]", `{"entries":[` + entry + `]}`} {
		entries, err := parseImport([]byte(data))
		if err != nil {
			t.Fatalf("parseImport(%.20s...): %v", data, err)
		}
		if len(entries) != 1 || entries[0].Question != "Is folic acid needed?" {
			t.Errorf("unexpected entries: %+v", entries)
		}
	}

	bad := []string{
		`[]`,
		`{"entries":[]}`,
		`[{"question":"","answer":` + answerJSON + `}]`,
		`[{"question":"q","answer":{"pros":[],"cons":[],"citations":[]}}]`,
		`not json`,
	}
	for _, data := range bad {
		if _, err := parseImport([]byte(data)); err == nil {
			t.Errorf("parseImport(%q) should fail", data)
		}
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct{ addr, want string }{
		{"127.0.0.1:4000", "http://127.0.0.1:4000"},
		{":8080", "http://127.0.0.1:8080"},
		{"api.local:80", "http://api.local:80"},
	}
	for _, tt := range tests {
		if got := serverURL(tt.addr); got != tt.want {
			t.Errorf("serverURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate(strings.Repeat("ü", 20), 10); got != strings.Repeat("ü", 7)+"..." {
		t.Errorf("got %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
