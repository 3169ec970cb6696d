package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"EduPipeline/internal/domain"
)

// maxBody bounds how much of a response body the helpers buffer.
const maxBody = 256 << 20

// StatusError is a non-2xx answer.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %s", e.Method, e.URL, e.Status)
}

// HTTPStatus exposes the status code to error classification.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// CheckResponse returns a *StatusError unless resp is 2xx.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	method, target := http.MethodGet, ""
	if resp.Request != nil {
		method = resp.Request.Method
		target = resp.Request.URL.String()
	}
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Status: status}
}

// Get fetches url and returns the body of a 2xx answer.
func Get(ctx context.Context, client Doer, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return Do(client, req)
}

// Do sends req and returns the body of a 2xx answer.
func Do(client Doer, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// GetJSON fetches url and decodes the JSON answer into v.
func GetJSON(ctx context.Context, client Doer, url string, v any) error {
	body, err := Get(ctx, client, url, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrSchemaMismatch, url, err)
	}
	return nil
}
