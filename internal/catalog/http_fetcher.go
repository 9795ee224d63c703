package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/petrijr/flowstate/pkg/api"
)

// HTTPFetcher fetches the catalog from the backend's language model endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher for baseURL with a 10s client timeout.
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch performs GET {BaseURL}/language-models/. The body may be a bare JSON
// array of models or an object with a "models" field.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]api.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/language-models/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeModels(body)
}

func decodeModels(body []byte) ([]api.Model, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var models []api.Model
		if err := sonic.Unmarshal(body, &models); err != nil {
			return nil, fmt.Errorf("catalog: decode models: %w", err)
		}
		return models, nil
	}

	var wrapped struct {
		Models []api.Model `json:"models"`
	}
	if err := sonic.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("catalog: decode models: %w", err)
	}
	return wrapped.Models, nil
}
