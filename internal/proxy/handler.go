package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tokenizer"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tracker"
)

// Request headers understood by the proxy. They are stripped before the
// request is forwarded.
const (
	HeaderTarget        = "X-LCM-Target"
	HeaderProvider      = "X-LCM-Provider"
	HeaderScope         = "X-LCM-Scope"
	HeaderCorrelationID = "X-LCM-Correlation-ID"
)

// Response headers written by the proxy.
const (
	HeaderThrottle      = "X-LCM-Throttle"
	HeaderEstimatedCost = "X-LCM-Estimated-Cost"
	HeaderCost          = "X-LCM-Cost"
	HeaderInputUnits    = "X-LCM-Input-Units"
	HeaderOutputUnits   = "X-LCM-Output-Units"
	HeaderModel         = "X-LCM-Model"
	HeaderRecordID      = "X-LCM-Record-ID"
	HeaderLatency       = "X-LCM-Latency"
)

// Options configures the proxy handler.
type Options struct {
	// DefaultScope tags requests without an X-LCM-Scope header. Empty
	// means model.DefaultScopeID.
	DefaultScope   string
	AddCostHeaders bool
	DenyOnExceed   bool
	MaxBodySize    int64
}

// Handler is a transparent proxy that meters LLM API calls. It estimates
// each request, checks budgets before forwarding and records the usage the
// provider reports.
type Handler struct {
	tracker *tracker.UsageTracker
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a new proxy handler.
func NewHandler(t *tracker.UsageTracker, opts Options, logger *slog.Logger) *Handler {
	if opts.DefaultScope == "" {
		opts.DefaultScope = model.DefaultScopeID
	}
	return &Handler{
		tracker: t,
		opts:    opts,
		logger:  logger,
	}
}

// blockedResponse is the 402 body returned when a budget denies a call.
type blockedResponse struct {
	Error         string                   `json:"error"`
	EstimatedCost float64                  `json:"estimated_cost_usd"`
	Result        *model.EnforcementResult `json:"result"`
}

// ServeHTTP handles proxied requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	targetURL := r.Header.Get(HeaderTarget)
	if targetURL == "" {
		http.Error(w, "missing "+HeaderTarget+" header", http.StatusBadRequest)
		return
	}

	target, err := url.Parse(targetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		http.Error(w, "invalid target URL", http.StatusBadRequest)
		return
	}

	reqBody, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(reqBody))
	r.ContentLength = int64(len(reqBody))

	provider := DetectProvider(target.Host, target.Path)
	if provider == "" {
		provider = r.Header.Get(HeaderProvider)
	}

	scope := r.Header.Get(HeaderScope)
	if scope == "" {
		scope = h.opts.DefaultScope
	}
	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	reqInfo, err := ExtractRequestInfo(reqBody, provider)
	if err != nil {
		h.logger.Debug("request body not recognized", "provider", provider, "error", err)
	}
	estimate := h.estimate(reqInfo, provider)

	result, err := h.tracker.CheckBudget(r.Context(), scope, estimate)
	if err != nil {
		h.logger.Error("budget check failed, forwarding request", "scope", scope, "error", err)
	} else {
		if len(result.Throttled) > 0 {
			w.Header().Set(HeaderThrottle, strings.Join(result.Throttled, ","))
		}
		if !result.Allowed {
			if h.opts.DenyOnExceed {
				h.writeBlocked(w, estimate, result)
				return
			}
			h.logger.Warn("budget exceeded, forwarding anyway",
				"scope", scope,
				"budget", result.BlockedBy.Name,
				"estimated_cost", estimate,
			)
		}
	}

	if h.opts.AddCostHeaders {
		w.Header().Set(HeaderEstimatedCost, formatCost(estimate))
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			query := req.URL.RawQuery
			req.URL = cloneURL(target)
			if req.URL.RawQuery == "" {
				req.URL.RawQuery = query
			}
			req.Host = target.Host
			req.Header.Del(HeaderTarget)
			req.Header.Del(HeaderProvider)
			req.Header.Del(HeaderScope)
			req.Header.Del(HeaderCorrelationID)
		},
		ModifyResponse: func(resp *http.Response) error {
			return h.captureResponse(resp, provider, reqInfo, scope, correlationID, start)
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			h.logger.Error("proxy error", "error", err, "target", targetURL)
			http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body := r.Body
	if h.opts.MaxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	}
	return io.ReadAll(body)
}

// estimate prices the request from its prompt tokens and output cap.
func (h *Handler) estimate(info *RequestInfo, provider string) float64 {
	if info == nil || info.Model == "" {
		return 0
	}
	tokens, err := tokenizer.CountChatTokens(info.Messages, provider, info.Model)
	if err != nil {
		h.logger.Warn("count prompt tokens", "model", info.Model, "error", err)
		return 0
	}
	usage := model.UsageQuantity{InputUnits: tokens, OutputUnits: info.MaxTokens}
	return h.tracker.EstimateCost(info.Model, usage, provider).TotalCost
}

func (h *Handler) writeBlocked(w http.ResponseWriter, estimate float64, result *model.EnforcementResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(blockedResponse{
		Error:         fmt.Sprintf("budget %q exceeded", result.BlockedBy.Name),
		EstimatedCost: estimate,
		Result:        result,
	})
}

// captureResponse reads the upstream response, records its usage and
// injects cost headers.
func (h *Handler) captureResponse(resp *http.Response, provider string, reqInfo *RequestInfo, scope, correlationID string, start time.Time) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))

	usage, err := ExtractResponseUsage(body, provider)
	if err != nil {
		h.logger.Warn("failed to extract usage from response", "provider", provider, "error", err)
		return nil
	}
	if usage == nil {
		return nil
	}

	modelID := usage.Model
	if modelID == "" && reqInfo != nil {
		modelID = reqInfo.Model
	}

	latency := time.Since(start)
	metadata := map[string]string{
		"path":    resp.Request.URL.Path,
		"latency": latency.String(),
	}

	// The record outlives the client connection.
	ctx := context.WithoutCancel(resp.Request.Context())
	record, _, err := h.tracker.Track(ctx, correlationID, scope, modelID, usage.Usage, provider, metadata)
	if err != nil {
		h.logger.Error("failed to record usage", "error", err)
		return nil
	}

	if h.opts.AddCostHeaders {
		resp.Header.Set(HeaderCost, formatCost(record.TotalCost))
		resp.Header.Set(HeaderInputUnits, strconv.FormatInt(record.Usage.InputUnits, 10))
		resp.Header.Set(HeaderOutputUnits, strconv.FormatInt(record.Usage.OutputUnits, 10))
		resp.Header.Set(HeaderProvider, record.Provider)
		resp.Header.Set(HeaderModel, record.Model)
		resp.Header.Set(HeaderRecordID, record.ID)
		resp.Header.Set(HeaderLatency, latency.String())
	}

	return nil
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	return &c
}

func formatCost(cost float64) string {
	return strconv.FormatFloat(cost, 'f', 6, 64)
}
