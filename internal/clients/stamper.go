package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"coop-settlement/internal/domain"
)

type StamperConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StamperClient talks to the electronic stamp duty provider.
type StamperClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

type stampRequest struct {
	Document  []byte                `json:"document"`
	Placement domain.StampPlacement `json:"placement"`
}

type stampResponse struct {
	Reference string `json:"reference"`
	Document  []byte `json:"document"`
}

func NewStamperClient(cfg StamperConfig) *StamperClient {
	return &StamperClient{
		http:    newHTTPClient(cfg.Timeout),
		baseURL: trimBase(cfg.BaseURL),
		apiKey:  cfg.APIKey,
	}
}

func (c *StamperClient) Stamp(ctx context.Context, document []byte, placement domain.StampPlacement) (*domain.StampedDocument, error) {
	payload, err := json.Marshal(stampRequest{Document: document, Placement: placement})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/stamps", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stamp request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out stampResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode stamp response: %w", err)
	}
	if out.Reference == "" {
		return nil, fmt.Errorf("stamp response without reference")
	}

	return &domain.StampedDocument{Reference: out.Reference, Content: out.Document}, nil
}
