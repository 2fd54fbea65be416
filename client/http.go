package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"Cassegrain/internal/ledger"
)

// defaultTimeout bounds a request whose context has no deadline.
const defaultTimeout = 30 * time.Second

// transport sends JSON requests to one node.
type transport struct {
	base string       // base is the URL prefix, e.g. "http://127.0.0.1:8080"
	http *http.Client // http performs the requests
}

func newTransport(addr string, hc *http.Client) transport {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}

	return transport{base: "http://" + addr, http: hc}
}

// get performs a GET request and decodes the JSON response.
func (t transport) get(ctx context.Context, path string, result any) error {
	return t.do(ctx, http.MethodGet, path, nil, result)
}

// post performs a POST request with a JSON body and decodes the JSON response.
func (t transport) post(ctx context.Context, path string, body, result any) error {
	return t.do(ctx, http.MethodPost, path, body, result)
}

func (t transport) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body:\n%w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", method, path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s:\n%w", method, path, decodeError(resp))
	}

	if result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError rebuilds the ledger error carried by a failed response so that
// errors.Is works on the client side.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if code, ok := ledger.CodeByKind(body.Kind); ok {
		return ledger.FromCode(code, body.Error)
	}

	return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
}
