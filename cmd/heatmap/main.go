package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"attackmap/internal/attack"
	"attackmap/internal/config"
	"attackmap/internal/heatmap"
	"attackmap/internal/parse"
	"attackmap/internal/validate"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		searchFlag = flag.String("search", "", "comma-separated group search terms (use * for all groups)")
		inputFlag  = flag.String("input", "", "input file with technique IDs (json, csv, stix, text)")
		formatFlag = flag.String("format", "", "input file format override (json, csv, stix, text)")
		columnFlag = flag.String("column", "", "CSV column holding technique IDs (auto-detected when empty)")
		idsFlag    = flag.String("techniques", "", "comma-separated technique IDs")

		matrixFlag    = flag.String("matrix", "", "ATT&CK matrix (enterprise-attack, mobile-attack, ics-attack)")
		scoringFlag   = flag.String("scoring", "", "scoring algorithm (linear, logarithmic, weighted, normalized)")
		threshold     = flag.Int("threshold", -1, "minimum technique count to include")
		platformsFlag = flag.String("platforms", "", "comma-separated platform filter (windows, linux, macos, cloud, ...)")
		noMerge       = flag.Bool("no-merge", false, "do not merge sub-technique counts into parents")
		schemeFlag    = flag.String("color-scheme", "", "layer color scheme (red_yellow_green, blue_white_red, viridis, plasma)")
		titleFlag     = flag.String("title", "", "layer title")

		outputPath = flag.String("output", "heatmap_layer.json", "output path for the Navigator layer")
		showStats  = flag.Bool("stats", false, "print score statistics after generation")

		noCache    = flag.Bool("no-cache", false, "bypass the corpus cache")
		clearCache = flag.Bool("clear-cache", false, "clear the corpus cache and exit")
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
	applyFlags(&cfg, *matrixFlag, *scoringFlag, *threshold, *platformsFlag, *schemeFlag, *titleFlag, *noMerge, *noCache)

	validator := validate.New(cfg.Rules, logger)
	if res := validator.Config(cfg); !res.Valid {
		logger.Fatal("invalid configuration", zap.Strings("errors", res.Errors))
	}

	cache, err := attack.OpenCache(cfg.Cache, logger)
	if err != nil {
		logger.Fatal("opening cache", zap.Error(err))
	}
	defer cache.Close()

	if *clearCache {
		if err := cache.ClearAll(); err != nil {
			logger.Fatal("clearing cache", zap.Error(err))
		}
		fmt.Println("cache cleared")
		return
	}

	ctx := context.Background()
	fetcher := attack.NewFetcher(cfg.Source, cache, logger)
	generator := heatmap.NewGenerator(cfg, fetcher, logger)

	result, err := generate(ctx, generator, validator, parse.New(validator, logger),
		*searchFlag, *inputFlag, *formatFlag, *columnFlag, *idsFlag, logger)
	if err != nil {
		logger.Fatal("generation failed", zap.Error(err))
	}

	layer := heatmap.BuildLayer(result, cfg)
	if err := writeLayer(layer, *outputPath); err != nil {
		logger.Fatal("writing layer", zap.Error(err))
	}
	logger.Info("layer written",
		zap.String("path", *outputPath),
		zap.Int("techniques", len(result.Scores)),
		zap.String("run_id", result.RunID))

	if *showStats {
		printStats(result)
	}
}

// generate dispatches on the input flags: group search, input file, or an
// explicit technique list. Exactly one input mode must be given.
func generate(ctx context.Context, g *heatmap.Generator, validator *validate.Validator,
	parser *parse.Parser, search, input, format, column, ids string, logger *zap.Logger) (*heatmap.Result, error) {

	modes := 0
	for _, s := range []string{search, input, ids} {
		if s != "" {
			modes++
		}
	}
	if modes != 1 {
		return nil, fmt.Errorf("exactly one of -search, -input, or -techniques is required")
	}

	switch {
	case search != "":
		terms, res := validator.SearchTerms(splitList(search))
		for _, w := range res.Warnings {
			logger.Warn("search term warning", zap.String("warning", w))
		}
		if !res.Valid {
			return nil, fmt.Errorf("invalid search terms: %s", strings.Join(res.Errors, "; "))
		}
		return g.GenerateFromGroups(ctx, terms)

	case ids != "":
		list, err := parser.TechniqueList(splitList(ids))
		if err != nil {
			return nil, err
		}
		return g.GenerateFromTechniqueList(ctx, list)

	default:
		f, err := resolveFormat(input, format)
		if err != nil {
			return nil, err
		}
		list, err := parser.File(input, f, column)
		if err != nil {
			return nil, err
		}
		return g.GenerateFromTechniqueList(ctx, list)
	}
}

func resolveFormat(path, override string) (parse.Format, error) {
	if override != "" {
		f, ok := parse.FormatFromName(override)
		if !ok {
			return f, fmt.Errorf("unknown input format %q", override)
		}
		return f, nil
	}
	probe := make([]byte, 4096)
	f, err := os.Open(path)
	if err != nil {
		return parse.DetectFormat(path, nil), nil
	}
	n, _ := f.Read(probe)
	f.Close()
	return parse.DetectFormat(path, probe[:n]), nil
}

func applyFlags(cfg *config.Config, matrix, scoring string, threshold int,
	platforms, scheme, title string, noMerge, noCache bool) {

	if matrix != "" {
		cfg.Matrix = config.MatrixType(matrix)
	}
	if scoring != "" {
		cfg.Scoring = config.Algorithm(scoring)
	}
	if threshold >= 0 {
		cfg.Threshold = threshold
	}
	if platforms != "" {
		cfg.Platforms = splitList(platforms)
	}
	if scheme != "" {
		cfg.ColorScheme = config.ColorScheme(scheme)
	}
	if title != "" {
		cfg.Title = title
	}
	if noMerge {
		cfg.MergeSubtechniques = false
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
}

func writeLayer(layer heatmap.Layer, path string) error {
	data, err := json.MarshalIndent(layer, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding layer: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func printStats(result *heatmap.Result) {
	stats := result.Stats()
	fmt.Println("\n--- Heatmap Statistics ---")
	fmt.Printf("Techniques:     %d (%d parents, %d sub-techniques)\n",
		stats.TotalTechniques, stats.ParentTechniques, stats.SubTechniques)
	fmt.Printf("Score range:    %.2f - %.2f\n", stats.MinScore, stats.MaxScore)
	fmt.Printf("Mean score:     %.2f\n", stats.MeanScore)
	fmt.Printf("Median score:   %.2f\n", stats.MedianScore)
	if len(result.GroupNames) > 0 {
		fmt.Printf("Matched groups: %s\n", strings.Join(result.GroupNames, ", "))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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
