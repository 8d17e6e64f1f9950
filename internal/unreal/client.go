// Package unreal reads object properties from a visualization engine over its
// remote-control HTTP API.
package unreal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const propertyPath = "/remote/object/property"

// TelemetryFetchError wraps any failure to fetch a property snapshot.
type TelemetryFetchError struct {
	ObjectPath string
	Err        error
}

func (e *TelemetryFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.ObjectPath, e.Err)
}

func (e *TelemetryFetchError) Unwrap() error { return e.Err }

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(address string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	endpoint := url.URL{
		Scheme: "http",
		Host:   address,
	}
	if port > 0 {
		endpoint.Host = address + ":" + strconv.Itoa(port)
	}
	return &Client{
		baseURL: endpoint.String(),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type propertyRequest struct {
	ObjectPath   string `json:"objectPath"`
	Access       string `json:"access"`
	PropertyName string `json:"propertyName,omitempty"`
}

// GetProperty reads one property of the object at objectPath, or all of its
// properties when property is empty.
func (c *Client) GetProperty(ctx context.Context, objectPath, property string) (map[string]any, error) {
	body, err := json.Marshal(propertyRequest{
		ObjectPath:   objectPath,
		Access:       "READ_ACCESS",
		PropertyName: property,
	})
	if err != nil {
		return nil, &TelemetryFetchError{ObjectPath: objectPath, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+propertyPath, bytes.NewReader(body))
	if err != nil {
		return nil, &TelemetryFetchError{ObjectPath: objectPath, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TelemetryFetchError{ObjectPath: objectPath, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TelemetryFetchError{ObjectPath: objectPath, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	var props map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&props); err != nil {
		return nil, &TelemetryFetchError{ObjectPath: objectPath, Err: fmt.Errorf("decode: %w", err)}
	}
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
}
