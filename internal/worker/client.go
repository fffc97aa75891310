// Package worker implements the TEE-side agent: it attests to the
// coordinator, claims jobs, compiles and executes them, and reports results.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/models"
)

// Client is the worker's coordinator API client. It doubles as the worker's
// compile cache, build locker, log sink and sealed-storage backend, all
// backed by coordinator endpoints.
type Client struct {
	base     string
	token    string
	workerID string
	http     *http.Client

	mu         sync.RWMutex
	credential string
}

func NewClient(base, token, workerID string) *Client {
	return &Client{
		base:     base,
		token:    token,
		workerID: workerID,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) setCredential(credential string) {
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.RLock()
	if c.credential != "" {
		req.Header.Set("X-Worker-Credential", c.credential)
	}
	c.mu.RUnlock()
	return req, nil
}

// doJSON posts in as JSON and decodes the response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, errs.ErrTransientInfra)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s: status %d: %s: %w", method, path, resp.StatusCode, data, errs.ErrTransientInfra)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Attest submits the quote and stores the issued claim credential.
func (c *Client) Attest(ctx context.Context, quote, collateral []byte) (expiresIn time.Duration, err error) {
	var resp struct {
		Credential       string `json:"credential"`
		ExpiresInSeconds int    `json:"expires_in_seconds"`
	}
	err = c.doJSON(ctx, http.MethodPost, "/api/v1/workers/attest", map[string]any{
		"worker_id":  c.workerID,
		"quote":      quote,
		"collateral": collateral,
	}, &resp)
	if err != nil {
		return 0, err
	}
	c.setCredential(resp.Credential)
	return time.Duration(resp.ExpiresInSeconds) * time.Second, nil
}

// Claim asks for up to max jobs.
func (c *Client) Claim(ctx context.Context, max int) ([]models.ExecutionRequest, error) {
	var resp struct {
		Jobs []models.ExecutionRequest `json:"jobs"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/claim", map[string]any{
		"worker_id": c.workerID,
		"max":       max,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Complete reports a finished execution. The result fields sit flat beside
// worker_id on the wire.
func (c *Client) Complete(ctx context.Context, result models.ExecutionResult) error {
	payload := struct {
		WorkerID string `json:"worker_id"`
		models.ExecutionResult
	}{c.workerID, result}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/complete", payload, nil)
}

// Fail reports a job the worker could not run.
func (c *Client) Fail(ctx context.Context, requestID uint64, message, kind string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/fail", map[string]any{
		"worker_id":  c.workerID,
		"request_id": requestID,
		"error":      message,
		"error_kind": kind,
	}, nil)
}

// Lookup implements compiler.Cache over the coordinator artifact cache.
func (c *Client) Lookup(ctx context.Context, fingerprint string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/cache/artifact?fingerprint="+fingerprint, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("cache lookup: %v: %w", err, errs.ErrTransientInfra)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", nil
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("cache lookup: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("X-Compilation-Note"), nil
}

// Put implements compiler.Cache; uploads are multipart so large artifacts
// stream without a JSON round trip.
func (c *Client) Put(ctx context.Context, fingerprint string, data []byte, note string) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("fingerprint", fingerprint); err != nil {
		return err
	}
	if err := form.WriteField("note", note); err != nil {
		return err
	}
	part, err := form.CreateFormFile("artifact", fingerprint+".wasm")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/cache/put", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cache put: %v: %w", err, errs.ErrTransientInfra)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cache put: status %d", resp.StatusCode)
	}
	return nil
}

// Acquire implements compiler.Locker over the coordinator lock API.
func (c *Client) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	var resp struct {
		Acquired bool `json:"acquired"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/locks/acquire", map[string]any{
		"lock_key":    key,
		"worker_id":   holder,
		"ttl_seconds": int(ttl.Seconds()),
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Acquired, nil
}

// Release implements compiler.Locker.
func (c *Client) Release(ctx context.Context, key, holder string) error {
	return c.doJSON(ctx, http.MethodDelete,
		"/api/v1/locks/"+url.PathEscape(key)+"?worker_id="+url.QueryEscape(holder), nil, nil)
}

// CompileLog implements compiler.LogSink: raw build output goes to the
// admin-only channel, never into the public result.
func (c *Client) CompileLog(ctx context.Context, requestID uint64, content string) {
	c.systemLog(ctx, requestID, "compile", content)
}

// ExecLog forwards guest diagnostics on the execute channel.
func (c *Client) ExecLog(ctx context.Context, requestID uint64, content string) {
	c.systemLog(ctx, requestID, "execute", content)
}

func (c *Client) systemLog(ctx context.Context, requestID uint64, channel, content string) {
	_ = c.doJSON(ctx, http.MethodPost, "/api/v1/internal/system-logs", map[string]any{
		"request_id": requestID,
		"worker_id":  c.workerID,
		"channel":    channel,
		"content":    content,
	}, nil)
}

// Get implements hostfns.StorageBackend over the sealed-storage API.
func (c *Client) Get(ctx context.Context, namespace, keyHash string) ([]byte, uint32, bool, error) {
	var resp struct {
		Found   bool   `json:"found"`
		Value   []byte `json:"value"`
		Version uint32 `json:"version"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/storage?"+storageQuery(namespace, keyHash), nil, &resp)
	if err != nil {
		return nil, 0, false, err
	}
	return resp.Value, resp.Version, resp.Found, nil
}

func storageQuery(namespace, keyHash string) string {
	q := url.Values{}
	q.Set("namespace", namespace)
	q.Set("key_hash", keyHash)
	return q.Encode()
}

// Set implements hostfns.StorageBackend.
func (c *Client) Set(ctx context.Context, namespace, keyHash string, sealed []byte, version uint32) error {
	return c.doJSON(ctx, http.MethodPut, "/api/v1/storage", map[string]any{
		"namespace": namespace,
		"key_hash":  keyHash,
		"value":     sealed,
		"version":   version,
	}, nil)
}

// Delete implements hostfns.StorageBackend.
func (c *Client) Delete(ctx context.Context, namespace, keyHash string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/storage?"+storageQuery(namespace, keyHash), nil, nil)
}
