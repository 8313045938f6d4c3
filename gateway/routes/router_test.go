package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"gridfund/gateway/client"
	"gridfund/gateway/middleware"
)

type fakeNode struct {
	lastMethod string
	lastParams map[string]interface{}
}

func (f *fakeNode) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string                   `json:"method"`
			Params []map[string]interface{} `json:"params"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		f.lastMethod = req.Method
		if len(req.Params) == 1 {
			f.lastParams = req.Params[0]
		} else {
			f.lastParams = nil
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "projects_count":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"count":1}}`))
		case "projects_get":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"id":0,"name":"Rooftop Array"}}`))
		case "projects_invest":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
		}
	})
}

func newGateway(t *testing.T, node *fakeNode, auth *middleware.Authenticator) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(node.handler())
	t.Cleanup(backend.Close)
	handler := New(Config{
		Node:          client.New(backend.URL, "", time.Second),
		Authenticator: auth,
		WriteScope:    "gridfund.write",
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestReadRoutesForwardToNode(t *testing.T) {
	node := &fakeNode{}
	server := newGateway(t, node, nil)

	resp, err := http.Get(server.URL + "/v1/projects/0")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if node.lastMethod != "projects_get" {
		t.Fatalf("node method = %q", node.lastMethod)
	}
	if id, ok := node.lastParams["projectId"].(float64); !ok || id != 0 {
		t.Fatalf("node params = %v", node.lastParams)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Rooftop Array") {
		t.Fatalf("body = %s", body)
	}
}

func TestListProjectsFansOut(t *testing.T) {
	node := &fakeNode{}
	server := newGateway(t, node, nil)

	resp, err := http.Get(server.URL + "/v1/projects")
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	defer resp.Body.Close()
	var out []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("projects = %d", len(out))
	}
}

func TestInvalidProjectIDRejectedLocally(t *testing.T) {
	node := &fakeNode{}
	server := newGateway(t, node, nil)

	resp, err := http.Get(server.URL + "/v1/projects/abc")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if node.lastMethod != "" {
		t.Fatalf("node was called with %q", node.lastMethod)
	}
}

func signToken(t *testing.T, secret string, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "gridfund-tests",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scope,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestWriteRoutesEnforceScopedJWT(t *testing.T) {
	node := &fakeNode{}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: "gateway-secret",
		Issuer:     "gridfund-tests",
	}, nil)
	server := newGateway(t, node, auth)

	body := strings.NewReader(`{"investor":"0x0000000000000000000000000000000000000010","amount":"1000000"}`)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/projects/0/invest", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}

	req, err = http.NewRequest(http.MethodPost, server.URL+"/v1/projects/0/invest",
		strings.NewReader(`{"investor":"0x0000000000000000000000000000000000000010","amount":"1000000"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, "gateway-secret", "gridfund.read"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong scope status = %d", resp.StatusCode)
	}

	req, err = http.NewRequest(http.MethodPost, server.URL+"/v1/projects/0/invest",
		strings.NewReader(`{"investor":"0x0000000000000000000000000000000000000010","amount":"1000000"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, "gateway-secret", "gridfund.write"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token status = %d", resp.StatusCode)
	}
	if node.lastMethod != "projects_invest" {
		t.Fatalf("node method = %q", node.lastMethod)
	}
	if id, ok := node.lastParams["projectId"].(float64); !ok || id != 0 {
		t.Fatalf("node params = %v", node.lastParams)
	}
}
