// Package e2e drives a running registry through its public HTTP surface with
// godog features. The suite needs a live stack (server plus the mock
// attestation verifier) and skips itself when none is reachable.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries per-scenario HTTP state. Step packages declare the
// slice of it they need as a local interface.
type TestContext struct {
	baseURL string
	client  *http.Client

	lastStatus int
	lastRaw    []byte
	lastBody   map[string]any
	stash      map[string]string
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		stash:   make(map[string]string),
	}
}

// POST sends a JSON body and records the response.
func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, tc.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// GET sends a request with optional headers and records the response.
func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.baseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastRaw, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	tc.lastBody = nil
	if len(tc.lastRaw) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(tc.lastRaw, &parsed); err == nil {
			tc.lastBody = parsed
		}
	}
	return nil
}

// Status returns the status code of the last response.
func (tc *TestContext) Status() int { return tc.lastStatus }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	if tc.lastBody == nil {
		return nil, fmt.Errorf("last response was not a JSON object: %q", tc.lastRaw)
	}
	v, ok := tc.lastBody[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastRaw)
	}
	return v, nil
}

// ResponseContains reports whether the last JSON response has the field.
func (tc *TestContext) ResponseContains(field string) bool {
	_, ok := tc.lastBody[field]
	return ok
}

// Remember stashes a value for later steps in the same scenario.
func (tc *TestContext) Remember(key, value string) { tc.stash[key] = value }

// Recall returns a value stashed by an earlier step.
func (tc *TestContext) Recall(key string) (string, error) {
	v, ok := tc.stash[key]
	if !ok {
		return "", fmt.Errorf("nothing stashed under %q, did an earlier step fail", key)
	}
	return v, nil
}
