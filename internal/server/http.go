package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"vaultrouter/internal/fault"
	"vaultrouter/internal/ingestion"
	"vaultrouter/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxCommandBody = 64 << 10

var errBadParam = errors.New("bad parameter")

type handler struct {
	deps Deps
	log  zerolog.Logger
}

// NewHandler builds the HTTP API: health probes, metrics, read endpoints
// backed by the query service and command injection.
func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps, log: deps.Logger}
	mux := http.NewServeMux()

	if deps.Health != nil {
		mux.HandleFunc("GET /healthz", deps.Health.LivenessHandler)
		mux.HandleFunc("GET /readyz", deps.Health.ReadinessHandler)
	}
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /v1/requests/{id}", h.instrument("get_request", h.getRequest))
	mux.HandleFunc("GET /v1/users/{user}/requests", h.instrument("user_requests", h.userRequests))
	mux.HandleFunc("GET /v1/holders/{holder}/settlements", h.instrument("settlements", h.settlements))
	mux.HandleFunc("GET /v1/balances/{account}/{token}", h.instrument("balance", h.balance))
	mux.HandleFunc("GET /v1/vaults/{vault}/{asset}", h.instrument("vault", h.vault))
	mux.HandleFunc("GET /v1/journals", h.instrument("journals", h.journals))
	mux.HandleFunc("GET /v1/admin/integrity", h.instrument("integrity", h.integrity))
	mux.HandleFunc("POST /v1/admin/rebuild-projections", h.instrument("rebuild", h.rebuild))
	mux.HandleFunc("POST /v1/commands/{name}", h.instrument("command", h.command))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handler) instrument(endpoint string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(r.PathValue("id"))
	if err != nil || len(raw) != common.HashLength {
		h.fail(w, fmt.Errorf("%w: request id", errBadParam))
		return
	}
	resp, err := h.deps.Query.GetRequest(r.Context(), common.BytesToHash(raw))
	h.respond(w, resp, err)
}

func (h *handler) userRequests(w http.ResponseWriter, r *http.Request) {
	user, err := address(r.PathValue("user"))
	if err != nil {
		h.fail(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.deps.Query.GetUserRequests(r.Context(), user, int(limit))
	h.respond(w, resp, err)
}

func (h *handler) settlements(w http.ResponseWriter, r *http.Request) {
	holder, err := address(r.PathValue("holder"))
	if err != nil {
		h.fail(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.deps.Query.GetSettlements(r.Context(), holder, int(limit))
	h.respond(w, resp, err)
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	account, err := address(r.PathValue("account"))
	if err != nil {
		h.fail(w, err)
		return
	}
	token, err := address(r.PathValue("token"))
	if err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.deps.Query.GetBalance(r.Context(), account, token)
	h.respond(w, resp, err)
}

func (h *handler) vault(w http.ResponseWriter, r *http.Request) {
	vault, err := address(r.PathValue("vault"))
	if err != nil {
		h.fail(w, err)
		return
	}
	asset, err := address(r.PathValue("asset"))
	if err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.deps.Query.GetVault(r.Context(), vault, asset)
	h.respond(w, resp, err)
}

func (h *handler) journals(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, err)
		return
	}
	var before *int64
	if r.URL.Query().Has("before") {
		b, err := intParam(r, "before")
		if err != nil {
			h.fail(w, err)
			return
		}
		before = &b
	}
	resp, err := h.deps.Query.GetJournalHistory(r.Context(), r.URL.Query().Get("prefix"), int(limit), before)
	h.respond(w, resp, err)
}

func (h *handler) integrity(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deps.Query.VerifyIntegrity(r.Context())
	h.respond(w, resp, err)
}

func (h *handler) rebuild(w http.ResponseWriter, r *http.Request) {
	if h.deps.Rebuild == nil {
		h.fail(w, query.ErrNoEventLog)
		return
	}
	last, err := h.deps.Rebuild(r.Context())
	h.respond(w, map[string]int64{"last_sequence": last}, err)
}

type commandResponse struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func (h *handler) command(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ingest == nil {
		writeJSON(w, http.StatusNotImplemented, commandResponse{Outcome: "unavailable"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: body: %v", errBadParam, err))
		return
	}

	outcome, err := h.deps.Ingest.Inject(r.Context(), r.PathValue("name"), body)
	resp := commandResponse{Outcome: outcome.String()}
	status := http.StatusOK
	switch outcome {
	case ingestion.OutcomeApplied, ingestion.OutcomeDuplicate:
	case ingestion.OutcomeRetry:
		status = http.StatusServiceUnavailable
		if err != nil && fault.Retryable(err) {
			status = statusFor(err)
		}
	default:
		status = statusFor(err)
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = fault.KindOf(err)
	}
	writeJSON(w, status, resp)
}

func (h *handler) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParam), errors.Is(err, query.ErrInvalidCursor), errors.Is(err, fault.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound), errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrNoEventLog):
		return http.StatusNotImplemented
	case errors.Is(err, fault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, fault.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, fault.ErrStateViolation), errors.Is(err, fault.ErrSolvency):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func address(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: address %q", errBadParam, s)
	}
	return common.HexToAddress(s), nil
}

func intParam(r *http.Request, name string) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadParam, name, s)
	}
	return n, nil
}
