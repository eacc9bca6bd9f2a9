package heatmap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attackmap/internal/attack"
	"attackmap/internal/config"
)

var (
	// ErrNoGroupsMatched means the group search resolved to nothing. A
	// "no results" outcome, distinct from a structural failure.
	ErrNoGroupsMatched = errors.New("no matching threat groups found")

	// ErrNoTechniques means resolution produced an empty usage count map.
	ErrNoTechniques = errors.New("no techniques found")
)

// Result is the output of one generation request: the final score map plus
// run metadata. Callers must treat both maps as immutable.
type Result struct {
	RunID      string
	Scores     map[string]float64
	Counts     map[string]int
	GroupNames []string
	Metadata   map[string]string
}

// Generator orchestrates corpus loading, group/technique resolution, policy
// transforms, and scoring. It is stateless between requests.
type Generator struct {
	cfg     config.Config
	fetcher *attack.Fetcher
	index   *attack.Index
	scorer  *Scorer
	logger  *zap.Logger
}

// NewGenerator wires a generator from its collaborators.
func NewGenerator(cfg config.Config, fetcher *attack.Fetcher, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:     cfg,
		fetcher: fetcher,
		index:   attack.NewIndex(logger),
		scorer:  NewScorer(cfg.Scoring, cfg.CustomWeights, logger),
		logger:  logger,
	}
}

// GenerateFromGroups resolves threat-group search terms into a scored
// heatmap. The wildcard term "*" selects every non-excluded group.
func (g *Generator) GenerateFromGroups(ctx context.Context, searchTerms []string) (*Result, error) {
	if err := g.loadCorpus(ctx); err != nil {
		return nil, err
	}

	var matches []attack.GroupMatch
	if hasWildcard(searchTerms) {
		matches = g.index.AllGroups()
		g.logger.Info("using all threat groups (wildcard)")
	} else {
		matches = g.index.SearchGroupsByKeywords(searchTerms, false)
	}
	if len(matches) == 0 {
		return nil, ErrNoGroupsMatched
	}

	groupIDs := make([]string, len(matches))
	groupNames := make([]string, len(matches))
	for i, m := range matches {
		groupIDs[i] = m.StixID
		groupNames[i] = m.Record.Name
	}
	g.logger.Info("matched threat groups",
		zap.Int("count", len(matches)),
		zap.Strings("names", truncateNames(groupNames, 10)))

	counts := g.index.TechniquesForGroups(groupIDs, true)
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w for matched groups", ErrNoTechniques)
	}

	counts = g.applyTransforms(counts)
	scores := g.scorer.Score(counts)

	result := &Result{
		RunID:      uuid.NewString(),
		Scores:     scores,
		Counts:     counts,
		GroupNames: groupNames,
		Metadata: map[string]string{
			"input_type":       "group_search",
			"search_terms":     strings.Join(searchTerms, ", "),
			"matched_groups":   strings.Join(truncateNames(groupNames, 10), ", "),
			"group_count":      fmt.Sprintf("%d", len(matches)),
			"matrix_type":      string(g.cfg.Matrix),
			"total_techniques": fmt.Sprintf("%d", len(scores)),
		},
	}
	return result, nil
}

// GenerateFromTechniqueList builds a heatmap from an externally validated
// list of technique identifiers. Counts tally occurrences after uppercase
// normalization; the corpus is loaded only for detail lookups (platform
// filtering), never to re-validate identifiers.
func (g *Generator) GenerateFromTechniqueList(ctx context.Context, techniqueIDs []string) (*Result, error) {
	if len(techniqueIDs) == 0 {
		return nil, ErrNoTechniques
	}

	if err := g.loadCorpus(ctx); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(techniqueIDs))
	for _, id := range techniqueIDs {
		counts[strings.ToUpper(id)]++
	}
	g.logger.Info("tallied technique list",
		zap.Int("input", len(techniqueIDs)), zap.Int("unique", len(counts)))

	counts = g.applyTransforms(counts)
	scores := g.scorer.Score(counts)

	result := &Result{
		RunID:  uuid.NewString(),
		Scores: scores,
		Counts: counts,
		Metadata: map[string]string{
			"input_type":       "technique_list",
			"matrix_type":      string(g.cfg.Matrix),
			"total_techniques": fmt.Sprintf("%d", len(scores)),
		},
	}
	return result, nil
}

// loadCorpus fetches and indexes the configured matrix. Failure here is
// fatal for the whole request.
func (g *Generator) loadCorpus(ctx context.Context) error {
	bundle, err := g.fetcher.Load(ctx, g.cfg.Matrix)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	g.index.Build(bundle)
	if g.index.TechniqueCount() == 0 {
		return fmt.Errorf("%w in corpus", ErrNoTechniques)
	}
	return nil
}

// applyTransforms runs the post-processing policies in order: sub-technique
// merge, platform filter, threshold filter. Filters that reduce the map to
// empty are not themselves fatal; scoring an empty map yields an empty map.
func (g *Generator) applyTransforms(counts map[string]int) map[string]int {
	if g.cfg.MergeSubtechniques {
		counts = mergeSubtechniques(counts)
	}
	if len(g.cfg.Platforms) > 0 {
		counts = g.filterByPlatform(counts)
	}
	if g.cfg.Threshold > 0 {
		counts = g.applyThreshold(counts)
	}
	return counts
}

// mergeSubtechniques adds every sub-technique's count into its parent's
// count. The sub-technique entry itself is kept unchanged: this is additive
// propagation upward, not a move.
func mergeSubtechniques(counts map[string]int) map[string]int {
	merged := make(map[string]int, len(counts))
	for id, count := range counts {
		merged[id] = count
	}
	for id, count := range counts {
		if i := strings.Index(id, "."); i > 0 {
			parent := id[:i]
			merged[parent] += count
		}
	}
	return merged
}

// filterByPlatform keeps techniques whose platform list intersects the
// allowed set. A technique with no resolvable details is kept (fail open).
// When no configured platform key resolves to any canonical names the
// filter is skipped entirely rather than dropping everything.
func (g *Generator) filterByPlatform(counts map[string]int) map[string]int {
	allowed := make(map[string]bool)
	for _, key := range g.cfg.Platforms {
		for _, name := range config.PlatformMappings[strings.ToLower(key)] {
			allowed[name] = true
		}
	}
	if len(allowed) == 0 {
		g.logger.Warn("no valid platforms specified, skipping platform filter",
			zap.Strings("platforms", g.cfg.Platforms))
		return counts
	}

	filtered := make(map[string]int, len(counts))
	for id, count := range counts {
		tech, found := g.index.TechniqueDetails(id)
		if !found {
			filtered[id] = count
			continue
		}
		for _, platform := range tech.Platforms {
			if allowed[platform] {
				filtered[id] = count
				break
			}
		}
	}

	g.logger.Info("platform filter applied",
		zap.Int("before", len(counts)), zap.Int("after", len(filtered)))
	return filtered
}

// applyThreshold drops parent techniques below the count threshold.
// Sub-technique identifiers are always retained regardless of count.
func (g *Generator) applyThreshold(counts map[string]int) map[string]int {
	filtered := make(map[string]int, len(counts))
	for id, count := range counts {
		if strings.Contains(id, ".") || count >= g.cfg.Threshold {
			filtered[id] = count
		}
	}

	g.logger.Info("threshold filter applied",
		zap.Int("threshold", g.cfg.Threshold),
		zap.Int("before", len(counts)), zap.Int("after", len(filtered)))
	return filtered
}

func hasWildcard(terms []string) bool {
	for _, t := range terms {
		if t == "*" {
			return true
		}
	}
	return false
}

func truncateNames(names []string, n int) []string {
	if len(names) <= n {
		return names
	}
	return names[:n]
}
