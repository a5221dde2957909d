package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

// maxResponseSize caps how much of a controller response is read.
const maxResponseSize = 1 << 20

// Client is the HTTP transport to irrigation controllers.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	scheme     string
}

// NewClient builds a Client from the controller config section.
// A zero timeout leaves the transport default in place.
func NewClient(cfg config.ControllerConfig) *Client {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		scheme:     scheme,
	}
}

// NewClientWithHTTP uses the given http.Client, mainly for tests.
func NewClientWithHTTP(hc *http.Client, scheme string) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if scheme == "" {
		scheme = "http"
	}
	return &Client{httpClient: hc, scheme: scheme}
}

// FetchTopology reads the live circuit and sensor topology of a controller.
//
// Parameters:
//   - ctx: cancels the request
//   - address: the controller's network address, with or without scheme
//
// Returns:
//   - Topology: the decoded report
//   - error: *TransportError, *ProtocolError or ErrInvalidAddress
func (c *Client) FetchTopology(ctx context.Context, address string) (Topology, error) {
	target, err := c.endpoint(address)
	if err != nil {
		return Topology{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Topology{}, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Topology{}, &TransportError{Address: address, Op: "fetch topology", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Topology{}, &TransportError{Address: address, Op: "read topology", Err: err}
	}

	if !isSuccess(resp.StatusCode) {
		return Topology{}, &ProtocolError{
			Address:    address,
			StatusCode: resp.StatusCode,
			Reason:     "unexpected status",
		}
	}

	var wire struct {
		Status int              `json:"status"`
		Data   *[]CircuitReport `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Topology{}, &ProtocolError{Address: address, StatusCode: resp.StatusCode, Reason: "malformed body", Err: err}
	}
	if wire.Data == nil {
		return Topology{}, &ProtocolError{Address: address, StatusCode: resp.StatusCode, Reason: "missing data"}
	}

	// Circuits without an _id and sensors without a serial are passed
	// through; the reconciler skips them one by one.
	return Topology{Status: wire.Status, Circuits: *wire.Data}, nil
}

// SendCommand asks the controller to open (active=true) or close a circuit.
// Any 2xx response is success; the body is drained but not parsed.
func (c *Client) SendCommand(ctx context.Context, address, circuitID string, active bool) error {
	target, err := c.endpoint(address)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(Command{ID: circuitID, Status: active})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	req.Close = true
	req.ContentLength = int64(len(payload))
	req.Header.Set("Connection", "close")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(payload)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Address: address, Op: "send command", Err: err}
	}
	defer resp.Body.Close()
	// Drain body before the connection is closed
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if !isSuccess(resp.StatusCode) {
		return &ProtocolError{
			Address:    address,
			StatusCode: resp.StatusCode,
			Reason:     "command rejected",
		}
	}
	return nil
}

// endpoint turns a stored address ("10.0.0.5:8080", "valves.local" or a
// full URL) into the controller's root URL.
func (c *Client) endpoint(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		address = c.scheme + "://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidAddress, address)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
