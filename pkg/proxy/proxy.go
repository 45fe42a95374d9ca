// Package proxy serves the completion pipeline: look the request up in the
// response cache before calling an upstream provider, and store the response
// after a miss.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/cachet-ai/cachet/pkg/cache"
	"github.com/cachet-ai/cachet/pkg/config"
	"github.com/cachet-ai/cachet/pkg/models"
	"github.com/cachet-ai/cachet/pkg/store"
)

// Server is the caching proxy.
type Server struct {
	cfg   *config.Config
	cache *cache.Store
	snaps *store.Store
	mux   *http.ServeMux
}

// New creates a proxy Server. snaps may be nil, in which case no snapshot is
// loaded or saved.
func New(cfg *config.Config, c *cache.Store, snaps *store.Store) *Server {
	s := &Server{
		cfg:   cfg,
		cache: c,
		snaps: snaps,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("/v1/messages", s.handleMessages)
	s.mux.HandleFunc("/", s.handlePassthrough)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy with graceful shutdown. A stored snapshot
// is imported on startup and the cache is exported back on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.snaps != nil {
		snap, err := s.snaps.Load(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		// An empty database yields an empty snapshot; importing it would
		// reset the configured settings to defaults.
		if len(snap.Entries) > 0 || snap.Settings != nil || snap.Stats != nil {
			n := s.cache.Import(snap)
			log.Printf("restored %d cached entries", n)
		}
	}

	if s.cfg.Maintenance.Interval > 0 {
		go s.maintenanceLoop(ctx)
	}

	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("cachet proxy listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.saveSnapshot()
		return err
	case err := <-errCh:
		return err
	}
}

// maintenanceLoop periodically sweeps expired entries and runs the
// value-scored optimize pass.
func (s *Server) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Maintenance.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.cache.CleanExpired(); removed > 0 {
				log.Printf("maintenance: removed %d expired entries", removed)
			}
			if evicted := s.cache.Optimize(); evicted > 0 {
				log.Printf("maintenance: optimize evicted %d entries", evicted)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) saveSnapshot() {
	if s.snaps == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.snaps.Save(ctx, s.cache.Export()); err != nil {
		log.Printf("save snapshot: %v", err)
	}
}

// cacheParams are the normalized request parameters the cache keys on.
type cacheParams struct {
	prompt      string
	context     string
	model       string
	temperature float64
}

// openAIParams extracts cache parameters from an OpenAI-shaped request:
// the last user message is the prompt, system messages are the context.
func (s *Server) openAIParams(req *models.ChatCompletionRequest) cacheParams {
	p := cacheParams{model: req.Model, temperature: s.cfg.Cache.DefaultTemperature}
	if req.Temperature != nil {
		p.temperature = *req.Temperature
	}
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			p.prompt = m.Content
		case "system":
			system = append(system, m.Content)
		}
	}
	p.context = strings.Join(system, "\n")
	return p
}

func (s *Server) anthropicParams(req *models.AnthropicRequest) cacheParams {
	p := cacheParams{model: req.Model, context: req.System, temperature: s.cfg.Cache.DefaultTemperature}
	if req.Temperature != nil {
		p.temperature = *req.Temperature
	}
	for _, m := range req.Messages {
		if m.Role == "user" {
			p.prompt = m.Content
		}
	}
	return p
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req models.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Streaming responses are relayed uncached.
	if req.Stream {
		s.relayStream(w, r, "/v1/chat/completions", body, openAIHeaders)
		return
	}

	params := s.openAIParams(&req)
	if entry, ok := s.cache.Get(params.prompt, params.context, params.model, params.temperature); ok {
		resp := models.ChatCompletionResponse{
			ID:      entry.ID,
			Object:  "chat.completion",
			Created: entry.CreatedAt.Unix(),
			Model:   entry.Model,
			Choices: []models.Choice{
				{Index: 0, Message: models.ChatMessage{Role: "assistant", Content: entry.Response}, FinishReason: "stop"},
			},
			Usage: &models.Usage{
				PromptTokens:     entry.InputTokens,
				CompletionTokens: entry.OutputTokens,
				TotalTokens:      entry.TokensUsed,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cachet-Cache", "hit")
		json.NewEncoder(w).Encode(resp)
		return
	}

	result := s.forward(r.Context(), "/v1/chat/completions", body, openAIHeaders)
	if result == nil {
		writeJSONError(w, http.StatusBadGateway, "all upstream providers failed")
		return
	}

	if result.statusCode == http.StatusOK {
		var chatResp models.ChatCompletionResponse
		if err := json.Unmarshal(result.body, &chatResp); err == nil && len(chatResp.Choices) > 0 {
			usage := chatResp.Usage
			if usage == nil {
				usage = &models.Usage{}
			}
			s.cache.Set(params.prompt, params.context, params.model, params.temperature,
				chatResp.Choices[0].Message.Content, usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens)
		}
	}

	forwardResult(w, result)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req models.AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Stream {
		s.relayStream(w, r, "/v1/messages", body, anthropicHeaders(r))
		return
	}

	params := s.anthropicParams(&req)
	if entry, ok := s.cache.Get(params.prompt, params.context, params.model, params.temperature); ok {
		resp := models.AnthropicResponse{
			ID:         entry.ID,
			Type:       "message",
			Role:       "assistant",
			Model:      entry.Model,
			Content:    []models.AnthropicContent{{Type: "text", Text: entry.Response}},
			StopReason: "end_turn",
			Usage: &models.AnthropicUsage{
				InputTokens:  entry.InputTokens,
				OutputTokens: entry.OutputTokens,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cachet-Cache", "hit")
		json.NewEncoder(w).Encode(resp)
		return
	}

	result := s.forward(r.Context(), "/v1/messages", body, anthropicHeaders(r))
	if result == nil {
		writeJSONError(w, http.StatusBadGateway, "all upstream providers failed")
		return
	}

	if result.statusCode == http.StatusOK {
		var anthResp models.AnthropicResponse
		if err := json.Unmarshal(result.body, &anthResp); err == nil && len(anthResp.Content) > 0 {
			var text string
			for _, c := range anthResp.Content {
				if c.Type == "text" {
					text = c.Text
					break
				}
			}
			usage := &models.Usage{}
			if anthResp.Usage != nil {
				usage = anthResp.Usage.ToUsage()
			}
			s.cache.Set(params.prompt, params.context, params.model, params.temperature,
				text, usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens)
		}
	}

	forwardResult(w, result)
}

func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	if len(s.cfg.Providers) == 0 {
		writeJSONError(w, http.StatusServiceUnavailable, "no providers configured")
		return
	}

	provider := s.cfg.Providers[0]
	target, err := url.Parse(provider.URL)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "invalid provider URL")
		return
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			req.Header.Set("Authorization", "Bearer "+provider.APIKey)
		},
	}
	rp.ServeHTTP(w, r)
}

// upstreamResult holds the response from a single upstream attempt.
type upstreamResult struct {
	statusCode int
	body       []byte
	header     http.Header
}

// headerFunc builds the auth headers for a provider.
type headerFunc func(provider config.ProviderConfig) map[string]string

func openAIHeaders(provider config.ProviderConfig) map[string]string {
	return map[string]string{"Authorization": "Bearer " + provider.APIKey}
}

func anthropicHeaders(r *http.Request) headerFunc {
	version := r.Header.Get("anthropic-version")
	return func(provider config.ProviderConfig) map[string]string {
		h := map[string]string{"x-api-key": provider.APIKey}
		if version != "" {
			h["anthropic-version"] = version
		}
		return h
	}
}

// forward tries each configured provider in order, returning the first
// non-5xx response, or the last 5xx one. Returns nil when every attempt
// failed at the transport level.
func (s *Server) forward(ctx context.Context, path string, body []byte, headers headerFunc) *upstreamResult {
	var result *upstreamResult
	for _, provider := range s.cfg.Providers {
		res, err := doUpstreamRequest(ctx, provider.URL, path, headers(provider), body)
		if err != nil {
			log.Printf("upstream %s failed: %v, trying next", provider.Name, err)
			continue
		}
		if res.statusCode >= 500 {
			log.Printf("upstream %s returned %d, trying next", provider.Name, res.statusCode)
			result = res
			continue
		}
		return res
	}
	return result
}

func doUpstreamRequest(ctx context.Context, providerURL, path string, headers map[string]string, body []byte) (*upstreamResult, error) {
	target, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &upstreamResult{
		statusCode: resp.StatusCode,
		body:       respBody,
		header:     resp.Header,
	}, nil
}

// relayStream forwards a streaming request to the first healthy provider and
// relays the SSE stream to the client. Streamed responses are not cached.
func (s *Server) relayStream(w http.ResponseWriter, r *http.Request, path string, body []byte, headers headerFunc) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var resp *http.Response
	for _, provider := range s.cfg.Providers {
		target, err := url.Parse(provider.URL)
		if err != nil {
			continue
		}
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target.String()+path, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers(provider) {
			req.Header.Set(k, v)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("upstream %s failed: %v, trying next", provider.Name, err)
			continue
		}
		if res.StatusCode >= 500 {
			res.Body.Close()
			log.Printf("upstream %s returned %d, trying next", provider.Name, res.StatusCode)
			continue
		}
		resp = res
		break
	}
	if resp == nil {
		writeJSONError(w, http.StatusBadGateway, "all upstream providers failed")
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Cachet-Cache", "bypass")
	w.WriteHeader(resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintf(w, "%s\n", line)
		if line == "" {
			flusher.Flush()
		}
	}
	flusher.Flush()

	if err := scanner.Err(); err != nil {
		log.Printf("streaming error: %v", err)
	}
}

func forwardResult(w http.ResponseWriter, result *upstreamResult) {
	for k, vals := range result.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Cachet-Cache", "miss")
	w.WriteHeader(result.statusCode)
	w.Write(result.body)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"cachet_error","code":%d}}`, message, code)
}
