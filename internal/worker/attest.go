package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// QuoteProvider produces a fresh TEE quote for attestation. Inside a TD the
// provider talks to the local attestation agent; outside one, a stub is
// injected for development.
type QuoteProvider interface {
	Quote(ctx context.Context) (quote, collateral []byte, err error)
}

// AgentQuoteProvider fetches quotes from the in-guest attestation agent
// (dstack-style local HTTP endpoint).
type AgentQuoteProvider struct {
	endpoint string
	http     *http.Client
}

func NewAgentQuoteProvider(endpoint string) *AgentQuoteProvider {
	return &AgentQuoteProvider{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *AgentQuoteProvider) Quote(ctx context.Context) ([]byte, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/quote", nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("attestation agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("attestation agent: status %d", resp.StatusCode)
	}

	var body struct {
		Quote      []byte `json:"quote"`
		Collateral []byte `json:"collateral"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("attestation agent: decode: %w", err)
	}
	return body.Quote, body.Collateral, nil
}
