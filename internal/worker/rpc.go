package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// RPCClient forwards guest RPC calls to the configured JSON-RPC endpoint.
// It implements hostfns.RPCForwarder. Policy enforcement (call budget,
// transaction blocking) happens in the host layer before Call is reached.
type RPCClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RPCClient) Call(ctx context.Context, method string, params []byte) ([]byte, error) {
	body, err := json.Marshal(rpcEnvelope{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc %s: status %d", method, resp.StatusCode)
	}

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("rpc %s: decode: %w", method, err)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("rpc %s: %d %s", method, reply.Error.Code, reply.Error.Message)
	}
	return reply.Result, nil
}
