package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gridfund/gateway/client"
	"gridfund/gateway/middleware"
)

// Config assembles the REST surface in front of the node RPC.
type Config struct {
	Node          *client.Client
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	CORS          middleware.CORSConfig
	// WriteScope is the JWT scope required for mutating endpoints.
	WriteScope string
}

// New builds the chi router for the gateway: public reads, scoped writes.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	h := &handlers{node: cfg.Node}

	reads := func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("reads"))
		}
		sr.Get("/v1/projects", h.listProjects)
		sr.Get("/v1/projects/{id}", h.getProject)
		sr.Get("/v1/projects/{id}/investors", h.getInvestors)
		sr.Get("/v1/projects/{id}/timeline", h.getTimeline)
		sr.Get("/v1/projects/{id}/energy", h.getEnergyRecords)
		sr.Get("/v1/projects/{id}/investments/{investor}", h.getInvestment)
		sr.Get("/v1/projects/{id}/investments/{investor}/interest", h.getAvailableInterest)
		sr.Get("/v1/projects/{id}/investments/{investor}/principal", h.getAvailablePrincipal)
	}

	writes := func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("writes"))
		}
		if cfg.Authenticator != nil {
			scopes := []string{}
			if cfg.WriteScope != "" {
				scopes = append(scopes, cfg.WriteScope)
			}
			sr.Use(cfg.Authenticator.Middleware(scopes...))
		}
		sr.Post("/v1/projects", h.createProject)
		sr.Post("/v1/projects/{id}/invest", h.invest)
		sr.Post("/v1/projects/{id}/funding-failed", h.markFundingFailed)
		sr.Post("/v1/projects/{id}/complete", h.completeConstruction)
		sr.Post("/v1/projects/{id}/claims/interest", h.claimInterest)
		sr.Post("/v1/projects/{id}/claims/principal", h.claimPrincipal)
		sr.Post("/v1/projects/{id}/claims/refund", h.claimRefund)
		sr.Post("/v1/projects/{id}/energy", h.recordEnergy)
		sr.Post("/v1/payouts/deposit", h.depositPayoutFunds)
	}

	r.Group(reads)
	r.Group(writes)
	return r
}

type handlers struct {
	node *client.Client
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeNodeError(w http.ResponseWriter, err error) {
	var rpcErr *client.RPCError
	if errors.As(err, &rpcErr) {
		status := rpcErr.Status
		if status == 0 || status == http.StatusOK {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorBody{Error: rpcErr.Message})
		return
	}
	writeJSON(w, http.StatusBadGateway, errorBody{Error: "node unavailable"})
}

func projectID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func (h *handlers) proxyGet(w http.ResponseWriter, r *http.Request, method string, params interface{}) {
	var result json.RawMessage
	if err := h.node.Call(r.Context(), method, params, &result); err != nil {
		writeNodeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(result)
}

func (h *handlers) proxyProjectGet(w http.ResponseWriter, r *http.Request, method string) {
	id, err := projectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid project id"})
		return
	}
	h.proxyGet(w, r, method, map[string]uint64{"projectId": id})
}

func (h *handlers) proxyInvestorGet(w http.ResponseWriter, r *http.Request, method string) {
	id, err := projectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid project id"})
		return
	}
	h.proxyGet(w, r, method, map[string]interface{}{
		"projectId": id,
		"investor":  chi.URLParam(r, "investor"),
	})
}

func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	var count struct {
		Count uint64 `json:"count"`
	}
	if err := h.node.Call(r.Context(), "projects_count", nil, &count); err != nil {
		writeNodeError(w, err)
		return
	}
	out := make([]json.RawMessage, 0, count.Count)
	for id := uint64(0); id < count.Count; id++ {
		var project json.RawMessage
		if err := h.node.Call(r.Context(), "projects_get", map[string]uint64{"projectId": id}, &project); err != nil {
			writeNodeError(w, err)
			return
		}
		out = append(out, project)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	h.proxyProjectGet(w, r, "projects_get")
}

func (h *handlers) getInvestors(w http.ResponseWriter, r *http.Request) {
	h.proxyProjectGet(w, r, "projects_investors")
}

func (h *handlers) getTimeline(w http.ResponseWriter, r *http.Request) {
	h.proxyProjectGet(w, r, "projects_timeline")
}

func (h *handlers) getEnergyRecords(w http.ResponseWriter, r *http.Request) {
	h.proxyProjectGet(w, r, "projects_energyRecords")
}

func (h *handlers) getInvestment(w http.ResponseWriter, r *http.Request) {
	h.proxyInvestorGet(w, r, "projects_investment")
}

func (h *handlers) getAvailableInterest(w http.ResponseWriter, r *http.Request) {
	h.proxyInvestorGet(w, r, "projects_availableInterest")
}

func (h *handlers) getAvailablePrincipal(w http.ResponseWriter, r *http.Request) {
	h.proxyInvestorGet(w, r, "projects_availablePrincipal")
}

func (h *handlers) proxyPost(w http.ResponseWriter, r *http.Request, method string, params map[string]interface{}) {
	var result json.RawMessage
	if err := h.node.Call(r.Context(), method, params, &result); err != nil {
		writeNodeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(result)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	params := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return nil, false
	}
	return params, true
}

func decodeProjectBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	id, err := projectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid project id"})
		return nil, false
	}
	params, ok := decodeBody(w, r)
	if !ok {
		return nil, false
	}
	params["projectId"] = id
	return params, true
}

func (h *handlers) createProject(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_create", params)
}

func (h *handlers) invest(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeProjectBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_invest", params)
}

func (h *handlers) markFundingFailed(w http.ResponseWriter, r *http.Request) {
	id, err := projectID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid project id"})
		return
	}
	h.proxyPost(w, r, "projects_markFundingFailed", map[string]interface{}{"projectId": id})
}

func (h *handlers) completeConstruction(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeProjectBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_completeConstruction", params)
}

func (h *handlers) claimInterest(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeProjectBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_claimInterest", params)
}

func (h *handlers) claimPrincipal(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeProjectBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_claimPrincipal", params)
}

func (h *handlers) claimRefund(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeProjectBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_claimRefund", params)
}

func (h *handlers) recordEnergy(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeProjectBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_recordEnergy", params)
}

func (h *handlers) depositPayoutFunds(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeBody(w, r)
	if !ok {
		return
	}
	h.proxyPost(w, r, "projects_depositPayoutFunds", params)
}
