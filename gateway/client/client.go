package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a thin JSON-RPC client for the gridfund node, used by the REST
// gateway to translate HTTP calls into node methods.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// New builds a client for the node at endpoint. The bearer token is attached
// to every request; the node itself decides which methods need it.
func New(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError carries a node-side failure through to the gateway layer.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Status  int         `json:"-"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes the node method with a single parameter object and decodes the
// result into out. A nil params sends an empty parameter list.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	request := rpcRequest{JSONRPC: "2.0", Method: method, ID: 1}
	if params != nil {
		request.Params = []interface{}{params}
	}
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call node: %w", err)
	}
	defer httpResp.Body.Close()

	response := &rpcResponse{}
	if err := json.NewDecoder(httpResp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if response.Error != nil {
		response.Error.Status = httpResp.StatusCode
		return response.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
