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

type RendererConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RendererClient turns a contract payload into a PDF through the document
// rendering service.
type RendererClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewRendererClient(cfg RendererConfig) *RendererClient {
	return &RendererClient{
		http:    newHTTPClient(cfg.Timeout),
		baseURL: trimBase(cfg.BaseURL),
		apiKey:  cfg.APIKey,
	}
}

func (c *RendererClient) Render(ctx context.Context, doc domain.ContractDocument) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode contract document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/contracts/render", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	pdf, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("render contract %s: %w", doc.ContractRef, err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("render contract %s: empty document", doc.ContractRef)
	}
	return pdf, nil
}
