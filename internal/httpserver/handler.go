package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/davidbz/conduit/internal/config"
	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/engine"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/registry"
	"github.com/davidbz/conduit/internal/transport"
	"github.com/davidbz/conduit/internal/version"
)

// Handler handles HTTP requests.
type Handler struct {
	registry  *registry.Registry
	table     *pricing.Table
	providers *config.ProvidersConfig
	defaults  *config.DefaultsConfig
	client    *transport.Client
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	reg *registry.Registry,
	table *pricing.Table,
	providers *config.ProvidersConfig,
	defaults *config.DefaultsConfig,
) *Handler {
	if providers == nil {
		providers = &config.ProvidersConfig{}
	}
	if defaults == nil {
		defaults = &config.DefaultsConfig{}
	}
	return &Handler{
		registry:  reg,
		table:     table,
		providers: providers,
		defaults:  defaults,
		client:    transport.NewClientWithTimeout(defaults.RequestTimeout),
	}
}

// Routes returns the mux serving every endpoint.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", h.HandleChat)
	mux.HandleFunc("GET /v1/models", h.HandleModels)
	mux.HandleFunc("GET /v1/prices", h.HandlePrices)
	mux.HandleFunc("POST /v1/prices/refresh", h.HandlePricesRefresh)
	mux.HandleFunc("GET /health", h.HandleHealth)
	return mux
}

// chatRequest is the body of POST /v1/chat.
type chatRequest struct {
	Service  string           `json:"service"`
	Model    string           `json:"model"`
	Prompt   string           `json:"prompt"`
	Messages []domain.Message `json:"messages"`
	Options  domain.Options   `json:"options"`
	Stream   bool             `json:"stream"`
	Extended bool             `json:"extended"`
}

// chatResponse is the body of a non-extended, non-streamed completion.
type chatResponse struct {
	Service string `json:"service"`
	Model   string `json:"model"`
	Content string `json:"content,omitempty"`
	Parsed  any    `json:"parsed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// HandleChat runs one completion. Streams are served as server-sent events.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &domain.ConfigurationError{Message: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	eng, opts, err := h.chatEngine(&req)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx = observability.WithCall(ctx, opts.Service, opts.Model)
	logger := observability.FromContext(ctx)
	logger.Info("chat request received",
		observability.Int("messages", len(eng.Messages())),
		observability.Bool("stream", req.Stream),
		observability.Bool("extended", req.Extended),
	)

	switch {
	case req.Stream && req.Extended:
		h.streamExtended(ctx, w, eng, opts)
	case req.Stream:
		h.stream(ctx, w, eng, opts)
	case req.Extended:
		resp, sendErr := eng.SendExtended(ctx, opts)
		if sendErr != nil {
			logger.Error("completion failed", observability.Error(sendErr))
			writeError(w, sendErr)
			return
		}
		logger.Info("completion succeeded",
			observability.Int("tokens", resp.Usage.TotalTokens),
			observability.Float64("cost", resp.Usage.TotalCost),
		)
		writeJSON(ctx, w, http.StatusOK, resp)
	default:
		out := chatResponse{Service: opts.Service, Model: opts.Model}
		if opts.JSON {
			out.Parsed, err = eng.Parse(ctx, opts)
		} else {
			out.Content, err = eng.Send(ctx, opts)
		}
		if err != nil {
			logger.Error("completion failed", observability.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, out)
	}
}

// chatEngine resolves the service and model of req and builds an engine
// seeded with its conversation.
func (h *Handler) chatEngine(req *chatRequest) (*engine.Engine, domain.Options, error) {
	msgs := slices.Clone(req.Messages)
	if req.Prompt != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Text: req.Prompt})
	}
	if len(msgs) == 0 {
		return nil, domain.Options{}, &domain.ConfigurationError{Message: "messages or prompt is required"}
	}
	for _, msg := range msgs {
		if !msg.Role.Valid() {
			return nil, domain.Options{}, &domain.ConfigurationError{Message: fmt.Sprintf("invalid message role: %q", msg.Role)}
		}
	}

	service, model, err := h.target(req.Service, req.Model)
	if err != nil {
		return nil, domain.Options{}, err
	}

	opts := req.Options.Clone()
	opts.Service = service
	opts.Model = model
	// Endpoints come from server configuration only.
	opts.BaseURL = ""
	if opts.MaxTokens == 0 {
		opts.MaxTokens = h.defaults.MaxTokens
	}

	eng, err := engine.NewFromRegistry(h.registry, service, h.providers.Settings(service), h.table,
		engine.WithMessages(msgs),
		engine.WithTransport(h.client),
	)
	if err != nil {
		return nil, domain.Options{}, err
	}
	return eng, opts, nil
}

// target picks the service and model for a request. An empty service is
// inferred from the model name, then falls back to the configured default.
func (h *Handler) target(service, model string) (string, string, error) {
	if service == "" && model != "" {
		if inferred, err := h.registry.ServiceForModel(model); err == nil {
			service = inferred
		}
	}
	if service == "" {
		service = h.defaults.Service
	}
	if model == "" {
		if service != h.defaults.Service || h.defaults.Model == "" {
			return "", "", &domain.ConfigurationError{Service: service, Message: "model is required"}
		}
		model = h.defaults.Model
	}
	return service, model, nil
}

func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, opts domain.Options) {
	logger := observability.FromContext(ctx)
	if !canStream(w) {
		logger.Error("streaming not supported")
		writeError(w, errors.New("streaming not supported"))
		return
	}

	fragments, err := eng.Stream(ctx, opts)
	if err != nil {
		logger.Error("stream failed", observability.Error(err))
		writeError(w, err)
		return
	}

	sse := newEventWriter(w)

	for text, streamErr := range fragments {
		if streamErr != nil {
			logger.Error("stream chunk error", observability.Error(streamErr))
			sse.send("error", errorBody(streamErr))
			return
		}
		sse.send("", domain.Event{Type: domain.EventContent, Content: text})
	}
	logger.Info("stream completed")
}

func (h *Handler) streamExtended(ctx context.Context, w http.ResponseWriter, eng *engine.Engine, opts domain.Options) {
	logger := observability.FromContext(ctx)
	if !canStream(w) {
		logger.Error("streaming not supported")
		writeError(w, errors.New("streaming not supported"))
		return
	}

	handle, err := eng.StreamExtended(ctx, opts)
	if err != nil {
		logger.Error("stream failed", observability.Error(err))
		writeError(w, err)
		return
	}
	defer handle.Close()

	sse := newEventWriter(w)

	for event, streamErr := range handle.Events() {
		if streamErr != nil {
			logger.Error("stream chunk error",
				observability.Error(streamErr),
				observability.Int("buffered_bytes", len(handle.Buffered())),
			)
			sse.send("error", errorBody(streamErr))
			return
		}
		sse.send("", event)
	}

	resp, err := handle.Complete(ctx)
	if err != nil {
		sse.send("error", errorBody(err))
		return
	}
	logger.Info("stream completed",
		observability.Int("tokens", resp.Usage.TotalTokens),
		observability.Float64("cost", resp.Usage.TotalCost),
	)
	sse.send("complete", resp)
}

// HandleModels lists a service's catalog. quality=true returns the
// curated chat list; unknown=true keeps unpriced models.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	service := query.Get("service")
	if service == "" {
		service = h.defaults.Service
	}
	ctx = observability.WithService(ctx, service)

	eng, err := engine.NewFromRegistry(h.registry, service, h.providers.Settings(service), h.table,
		engine.WithTransport(h.client),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := domain.Options{QualityFilter: domain.QualityFilter{
		AllowSimilar: queryBool(query.Get("similar")),
		AllowUnknown: queryBool(query.Get("unknown")),
	}}

	var models []domain.Model
	if queryBool(query.Get("quality")) {
		models, err = eng.GetQualityModels(ctx, opts)
	} else {
		models, err = eng.GetModels(ctx, opts)
	}
	if err != nil {
		observability.FromContext(ctx).Error("model listing failed", observability.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"service": service,
		"models":  models,
	})
}

// HandlePrices returns one price entry, or every entry of a service when
// no model is given.
func (h *Handler) HandlePrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	service := query.Get("service")
	model := query.Get("model")
	if service == "" && model != "" {
		if inferred, err := h.registry.ServiceForModel(model); err == nil {
			service = inferred
		}
	}
	if service == "" {
		writeError(w, &domain.ConfigurationError{Message: "service is required"})
		return
	}

	if model == "" {
		entries := h.table.Entries(service)
		slices.SortFunc(entries, func(a, b pricing.Entry) int {
			return strings.Compare(a.Model, b.Model)
		})
		writeJSON(ctx, w, http.StatusOK, map[string]any{
			"service": service,
			"entries": entries,
		})
		return
	}

	filter := domain.QualityFilter{AllowSimilar: queryBool(query.Get("similar"))}
	entry, ok := h.table.Get(service, model, filter)
	if !ok {
		writeError(w, &domain.LookupError{Service: service, Model: model})
		return
	}
	writeJSON(ctx, w, http.StatusOK, entry)
}

// HandlePricesRefresh replaces the base price snapshot with a fresh copy.
func (h *Handler) HandlePricesRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if err := h.table.Refresh(ctx); err != nil {
		logger.Error("price refresh failed", observability.Error(err))
		writeError(w, err)
		return
	}

	logger.Info("price table refreshed")
	writeJSON(ctx, w, http.StatusOK, map[string]any{
		"status":    "refreshed",
		"loaded_at": h.table.LoadedAt(),
	})
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Get().String(),
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(errorBody(err))
}

func errorBody(err error) errorResponse {
	return errorResponse{Error: err.Error(), Type: errorType(err)}
}

func errorType(err error) string {
	switch {
	case domain.IsConfiguration(err):
		return "configuration"
	case domain.IsLookup(err):
		return "lookup"
	case domain.IsAbort(err):
		return "abort"
	case domain.IsDecode(err):
		return "decode"
	case domain.IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}

func statusFor(err error) int {
	switch {
	case domain.IsConfiguration(err):
		return http.StatusBadRequest
	case domain.IsLookup(err):
		return http.StatusNotFound
	case domain.IsAbort(err):
		return http.StatusRequestTimeout
	case domain.IsDecode(err), domain.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}
