// Package search queries the OpenPerplex research API for evidence-backed
// pros and cons.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/parentproof/internal/answer"
)

const (
	DefaultBaseURL = "https://44c57909-d9e2-41cb-9244-9cd4a443cb41.app.bhs.ai.cloud.ovh.net"
	DefaultTimeout = 60 * time.Second

	// maxDetailBytes caps a raw error body quoted back to the caller.
	maxDetailBytes = 512
)

// ProviderError is any failure to obtain a usable response from the
// provider. Status is 0 for transport errors and timeouts.
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return "search provider: " + e.Message
	}
	return fmt.Sprintf("search provider returned %d: %s", e.Status, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Result is the raw provider output and the sources it consulted.
type Result struct {
	RawText      string
	Sources      []answer.Source
	ResponseTime float64 // seconds, as reported by the provider
}

// Options tunes the search request. Zero values take the defaults used by
// NewClient.
type Options struct {
	Location      string
	ProMode       bool
	SearchType    string
	RecencyFilter string
	Timeout       time.Duration
}

// Client calls the custom_search endpoint. It never retries.
type Client struct {
	apiKey     string
	baseURL    string
	opts       Options
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL means DefaultBaseURL.
func NewClient(apiKey, baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Location == "" {
		opts.Location = "us"
	}
	if opts.SearchType == "" {
		opts.SearchType = "general"
	}
	if opts.RecencyFilter == "" {
		opts.RecencyFilter = "anytime"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{},
	}
}

type searchRequest struct {
	UserPrompt    string  `json:"user_prompt"`
	SystemPrompt  string  `json:"system_prompt"`
	Location      string  `json:"location"`
	ProMode       bool    `json:"pro_mode"`
	SearchType    string  `json:"search_type"`
	ReturnImages  bool    `json:"return_images"`
	ReturnSources bool    `json:"return_sources"`
	RecencyFilter string  `json:"recency_filter"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
}

type searchResponse struct {
	LLMResponse  *string         `json:"llm_response"`
	ResponseTime float64         `json:"response_time"`
	Sources      []answer.Source `json:"sources"`
}

// Fetch asks the provider about question. Every failure, including a
// timeout, is a *ProviderError.
func (c *Client) Fetch(ctx context.Context, question string) (Result, error) {
	body, err := json.Marshal(searchRequest{
		UserPrompt:    EnhanceUserPrompt(question),
		SystemPrompt:  SystemPrompt,
		Location:      c.opts.Location,
		ProMode:       c.opts.ProMode,
		SearchType:    c.opts.SearchType,
		ReturnImages:  false,
		ReturnSources: true,
		RecencyFilter: c.opts.RecencyFilter,
		Temperature:   0.2,
		TopP:          0.9,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/custom_search", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("no response within %s", c.opts.Timeout)
		}
		return Result{}, &ProviderError{Message: msg, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &ProviderError{Status: resp.StatusCode, Message: "reading response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &ProviderError{Status: resp.StatusCode, Message: errorDetail(data)}
	}

	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, &ProviderError{Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	if out.LLMResponse == nil {
		return Result{}, &ProviderError{Status: resp.StatusCode, Message: "response has no llm_response"}
	}

	sources := make([]answer.Source, 0, len(out.Sources))
	for _, s := range out.Sources {
		sources = append(sources, answer.Source{
			Title:   StripHTML(s.Title),
			Link:    strings.TrimSpace(s.Link),
			Snippet: StripHTML(s.Snippet),
		})
	}
	return Result{RawText: *out.LLMResponse, Sources: sources, ResponseTime: out.ResponseTime}, nil
}

// errorDetail extracts the provider's detail message, falling back to the
// raw body.
func errorDetail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && len(e.Detail) > 0 {
		var s string
		if json.Unmarshal(e.Detail, &s) == nil {
			return s
		}
		return string(e.Detail)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxDetailBytes {
		cut := maxDetailBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
