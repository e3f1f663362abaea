package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/luckyPipewrench/headerlock/internal/config"
)

// tokenEnvVar lets operators avoid putting the API token on the command
// line (it would show in shell history and process listings).
const tokenEnvVar = "HEADERLOCK_TOKEN"

// daemonClient talks to a running headerlock daemon over its HTTP API.
type daemonClient struct {
	addr  string
	token string
	hc    *http.Client
}

func newDaemonClient(addr, token string) *daemonClient {
	if addr == "" {
		addr = config.DefaultListen
	}
	if token == "" {
		token = os.Getenv(tokenEnvVar)
	}
	return &daemonClient{
		addr:  addr,
		token: token,
		hc:    &http.Client{Timeout: 10 * time.Second},
	}
}

// get fetches path and returns the response body. Non-2xx responses
// become errors carrying the body text.
func (c *daemonClient) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, "http://"+c.addr+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// post sends a JSON body to path and returns the response body.
func (c *daemonClient) post(path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, "http://"+c.addr+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *daemonClient) do(req *http.Request) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w (is 'headerlock run' running?)", c.addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}
