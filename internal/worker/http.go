package worker

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
)

const maxResponseBytes = 8 << 20

// HTTPWorker POSTs the request to an endpoint and reads the output object
// from the response body.
type HTTPWorker struct {
	url    string
	client *http.Client
	header http.Header
}

// NewHTTPWorker returns a worker for url. Env entries become request headers
// so endpoints can receive credentials without them reaching job snapshots.
func NewHTTPWorker(url string, env map[string]string, client *http.Client) (*HTTPWorker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("http worker requires a url")
	}
	if client == nil {
		client = &http.Client{}
	}
	header := http.Header{}
	for key, value := range env {
		header.Set(key, value)
	}
	return &HTTPWorker{url: url, client: client, header: header}, nil
}

// URL returns the worker endpoint.
func (w *HTTPWorker) URL() string { return w.url }

func (w *HTTPWorker) Run(ctx context.Context, req Request) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Stage: req.Stage, Message: "encode request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Stage: req.Stage, Message: "build request", Err: err}
	}
	for key, values := range w.header {
		httpReq.Header[key] = values
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, req.Stage, err.Error(), 0, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, req.Stage, "read response", 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Stage: req.Stage, Message: errorMessage(resp.Status, payload)}
	}
	return decodeOutput(req.Stage, payload)
}

// Check confirms the endpoint answers. Any HTTP response counts as
// reachable; only transport failures are reported.
func (w *HTTPWorker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint unhealthy: %s", resp.Status)
	}
	return nil
}

func errorMessage(status string, payload []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &body) == nil {
		switch {
		case body.Error != "":
			return status + ": " + body.Error
		case body.Message != "":
			return status + ": " + body.Message
		}
	}
	if text := tail(string(payload)); text != "" {
		return status + ": " + text
	}
	return status
}
