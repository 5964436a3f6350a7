package main

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/config"
	"github.com/austindbirch/harbor_pulse/internal/logging"
)

// trackResponse mirrors the body the ingestion endpoint answers with
type trackResponse struct {
	ItemsReceived int      `json:"itemsReceived"`
	ItemsAccepted int      `json:"itemsAccepted"`
	Errors        []string `json:"errors"`
}

// envelope holds the fields of a telemetry item the collector cares about
type envelope struct {
	Name string            `json:"name"`
	IKey string            `json:"iKey"`
	Tags map[string]string `json:"tags"`
	Data struct {
		BaseType string `json:"baseType"`
	} `json:"data"`
}

// collector is a stand-in ingestion endpoint for local runs and tests
type collector struct {
	failFirstN    int
	responseDelay time.Duration
	logger        *logging.Logger

	mu       sync.Mutex
	reqCount int
	items    map[string]int // by baseType
}

func newCollector(cfg config.FakeCollector, logger *logging.Logger) *collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &collector{
		failFirstN:    cfg.FailFirstN,
		responseDelay: time.Duration(cfg.ResponseDelayMS) * time.Millisecond,
		logger:        logger,
		items:         make(map[string]int),
	}
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-collector")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	c := newCollector(cfg.FakeCollector, logger)
	srv := &http.Server{
		Addr:         cfg.FakeCollector.Port,
		Handler:      c.routes(),
		ReadTimeout:  cfg.FakeCollector.ReadTimeout,
		WriteTimeout: cfg.FakeCollector.WriteTimeout,
		IdleTimeout:  cfg.FakeCollector.IdleTimeout,
	}

	logger.Plain().WithField("addr", srv.Addr).Info("fake-collector listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake-collector stopped")
	}
}

func (c *collector) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/v2/track", c.handleTrack)
	mux.HandleFunc("/stats", c.handleStats)
	return mux
}

func (c *collector) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.Lock()
	c.reqCount++
	n := c.reqCount
	c.mu.Unlock()

	if c.responseDelay > 0 {
		time.Sleep(c.responseDelay)
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, "unreadable body: "+err.Error(), http.StatusBadRequest)
		return
	}
	envs, err := parseEnvelopes(body)
	if err != nil {
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	log := c.logger.Component("collector").WithField("request", n).WithField("items", len(envs))

	// Simulate flakiness: first N requests -> 503 so the client retries
	if n <= c.failFirstN {
		log.Warnf("FAILING (%d/%d) %s body=%q", n, c.failFirstN, r.URL.Path, truncate(string(body), 160))
		http.Error(w, "temporary failure", http.StatusServiceUnavailable)
		return
	}

	c.mu.Lock()
	for _, e := range envs {
		c.items[e.Data.BaseType]++
	}
	c.mu.Unlock()

	for _, e := range envs {
		log.WithRole(e.Tags["ai.cloud.role"]).WithField("base_type", e.Data.BaseType).Debug("item accepted")
	}
	log.Info("batch accepted")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(trackResponse{
		ItemsReceived: len(envs),
		ItemsAccepted: len(envs),
		Errors:        []string{},
	})
}

func (c *collector) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.snapshot())
}

// snapshot returns accepted item counts by base type
func (c *collector) snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// readBody returns the request body, inflating it when gzip encoded
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var reader io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// parseEnvelopes decodes newline-delimited JSON envelopes. A JSON array is
// accepted as well.
func parseEnvelopes(body []byte) ([]envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var envs []envelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return nil, err
		}
		return envs, nil
	}

	var envs []envelope
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		envs = append(envs, e)
	}
	return envs, scanner.Err()
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
