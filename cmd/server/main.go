package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"attackmap/internal/attack"
	"attackmap/internal/config"
	"attackmap/internal/heatmap"
	"attackmap/internal/search"
	"attackmap/internal/validate"
)

// generateRequest is the body of POST /api/generate. Exactly one of
// SearchTerms or TechniqueIDs must be set.
type generateRequest struct {
	SearchTerms  []string `json:"search_terms,omitempty"`
	TechniqueIDs []string `json:"technique_ids,omitempty"`

	Matrix             string   `json:"matrix,omitempty"`
	Scoring            string   `json:"scoring,omitempty"`
	Threshold          *int     `json:"threshold,omitempty"`
	Platforms          []string `json:"platforms,omitempty"`
	MergeSubtechniques *bool    `json:"merge_subtechniques,omitempty"`
	ColorScheme        string   `json:"color_scheme,omitempty"`
	Title              string   `json:"title,omitempty"`
}

type generateResponse struct {
	RunID      string             `json:"run_id"`
	Layer      heatmap.Layer      `json:"layer"`
	Statistics heatmap.Statistics `json:"statistics"`
	Groups     []string           `json:"groups,omitempty"`
	Metadata   map[string]string  `json:"metadata"`
}

type server struct {
	cfg     config.Config
	fetcher *attack.Fetcher
	logger  *zap.Logger

	mu      sync.Mutex
	indexes map[config.MatrixType]*search.Index
}

func main() {
	var (
		addr       = flag.String("addr", ":8080", "listen address")
		configPath = flag.String("config", "", "path to YAML config file")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("loading config", zap.Error(err))
		}
	}

	cache, err := attack.OpenCache(cfg.Cache, logger)
	if err != nil {
		logger.Fatal("opening cache", zap.Error(err))
	}
	defer cache.Close()

	srv := &server{
		cfg:     cfg,
		fetcher: attack.NewFetcher(cfg.Source, cache, logger),
		logger:  logger,
		indexes: make(map[config.MatrixType]*search.Index),
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", srv.handleGenerate)
	mux.HandleFunc("/api/search", srv.handleSearch)
	mux.HandleFunc("/api/health", srv.handleHealth)

	logger.Info("heatmap API listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, c.Handler(mux)); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if (len(req.SearchTerms) == 0) == (len(req.TechniqueIDs) == 0) {
		http.Error(w, "exactly one of search_terms or technique_ids is required", http.StatusBadRequest)
		return
	}

	cfg := s.cfg
	applyRequest(&cfg, req)

	validator := validate.New(cfg.Rules, s.logger)
	if res := validator.Config(cfg); !res.Valid {
		http.Error(w, fmt.Sprintf("invalid parameters: %v", res.Errors), http.StatusBadRequest)
		return
	}

	generator := heatmap.NewGenerator(cfg, s.fetcher, s.logger)

	var (
		result *heatmap.Result
		err    error
	)
	if len(req.SearchTerms) > 0 {
		terms, res := validator.SearchTerms(req.SearchTerms)
		if !res.Valid {
			http.Error(w, fmt.Sprintf("invalid search terms: %v", res.Errors), http.StatusBadRequest)
			return
		}
		result, err = generator.GenerateFromGroups(r.Context(), terms)
	} else {
		ids, res := validator.TechniqueList(req.TechniqueIDs)
		if !res.Valid {
			http.Error(w, fmt.Sprintf("invalid technique IDs: %v", res.Errors), http.StatusBadRequest)
			return
		}
		result, err = generator.GenerateFromTechniqueList(r.Context(), ids)
	}
	if err != nil {
		s.logger.Error("generation failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, heatmap.ErrNoGroupsMatched) || errors.Is(err, heatmap.ErrNoTechniques) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, s.logger, generateResponse{
		RunID:      result.RunID,
		Layer:      heatmap.BuildLayer(result, cfg),
		Statistics: result.Stats(),
		Groups:     result.GroupNames,
		Metadata:   result.Metadata,
	})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	queryStr := r.URL.Query().Get("query")
	if queryStr == "" {
		http.Error(w, "Query parameter 'query' is required", http.StatusBadRequest)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != "technique" && kind != "group" {
		http.Error(w, "kind must be 'technique' or 'group'", http.StatusBadRequest)
		return
	}

	matrix := s.cfg.Matrix
	if m := r.URL.Query().Get("matrix"); m != "" {
		matrix = config.MatrixType(m)
		if !matrix.Valid() {
			http.Error(w, fmt.Sprintf("unsupported matrix %q", m), http.StatusBadRequest)
			return
		}
	}

	idx, err := s.indexFor(r.Context(), matrix)
	if err != nil {
		s.logger.Error("building search index", zap.Error(err))
		http.Error(w, "could not load corpus for search", http.StatusInternalServerError)
		return
	}

	hits, err := idx.Search(queryStr, kind, 10)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, hits)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

// indexFor returns the search index for a matrix, building it from the
// corpus on first use.
func (s *server) indexFor(ctx context.Context, matrix config.MatrixType) (*search.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indexes[matrix]; ok {
		return idx, nil
	}

	bundle, err := s.fetcher.Load(ctx, matrix)
	if err != nil {
		return nil, err
	}
	idx, err := search.NewIndex(s.logger)
	if err != nil {
		return nil, err
	}
	if err := idx.IndexBundle(bundle); err != nil {
		idx.Close()
		return nil, err
	}
	s.indexes[matrix] = idx
	return idx, nil
}

func applyRequest(cfg *config.Config, req generateRequest) {
	if req.Matrix != "" {
		cfg.Matrix = config.MatrixType(req.Matrix)
	}
	if req.Scoring != "" {
		cfg.Scoring = config.Algorithm(req.Scoring)
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if len(req.Platforms) > 0 {
		cfg.Platforms = req.Platforms
	}
	if req.MergeSubtechniques != nil {
		cfg.MergeSubtechniques = *req.MergeSubtechniques
	}
	if req.ColorScheme != "" {
		cfg.ColorScheme = config.ColorScheme(req.ColorScheme)
	}
	if req.Title != "" {
		cfg.Title = req.Title
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
