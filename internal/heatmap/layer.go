package heatmap

import (
	"fmt"
	"sort"
	"strings"

	"attackmap/internal/config"
)

// Layer is an ATT&CK Navigator layer document.
type Layer struct {
	Name                          string           `json:"name"`
	Versions                      LayerVersions    `json:"versions"`
	Domain                        string           `json:"domain"`
	Description                   string           `json:"description"`
	Filters                       LayerFilters     `json:"filters"`
	Sorting                       int              `json:"sorting"`
	Layout                        LayerLayout      `json:"layout"`
	HideDisabled                  bool             `json:"hideDisabled"`
	Techniques                    []LayerTechnique `json:"techniques"`
	Gradient                      LayerGradient    `json:"gradient"`
	LegendItems                   []LayerLegend    `json:"legendItems"`
	Metadata                      []LayerMetadata  `json:"metadata"`
	Links                         []LayerLink      `json:"links"`
	ShowTacticRowBackground       bool             `json:"showTacticRowBackground"`
	TacticRowBackground           string           `json:"tacticRowBackground"`
	SelectTechniquesAcrossTactics bool             `json:"selectTechniquesAcrossTactics"`
	SelectSubtechniquesWithParent bool             `json:"selectSubtechniquesWithParent"`
}

type LayerVersions struct {
	Attack    string `json:"attack"`
	Navigator string `json:"navigator"`
	Layer     string `json:"layer"`
}

type LayerFilters struct {
	Platforms []string `json:"platforms"`
}

type LayerLayout struct {
	Layout              string `json:"layout"`
	AggregateFunction   string `json:"aggregateFunction"`
	ShowID              bool   `json:"showID"`
	ShowName            bool   `json:"showName"`
	ShowAggregateScores bool   `json:"showAggregateScores"`
	CountUnscored       bool   `json:"countUnscored"`
}

type LayerTechnique struct {
	TechniqueID string  `json:"techniqueID"`
	Score       float64 `json:"score"`
	Enabled     bool    `json:"enabled"`
	Comment     string  `json:"comment"`
}

type LayerGradient struct {
	Colors   []string `json:"colors"`
	MinValue float64  `json:"minValue"`
	MaxValue float64  `json:"maxValue"`
}

type LayerLegend struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

type LayerMetadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type LayerLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// BuildLayer renders a generation result as a Navigator layer document.
// Techniques are emitted in sorted identifier order so the document is
// deterministic for a given result.
func BuildLayer(result *Result, cfg config.Config) Layer {
	gradient, found := config.Gradients[cfg.ColorScheme]
	if !found {
		gradient = config.Gradients[config.SchemeRedYellowGreen]
	}

	ids := make([]string, 0, len(result.Scores))
	for id := range result.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	techniques := make([]LayerTechnique, 0, len(ids))
	minScore, maxScore := 0.0, 100.0
	for i, id := range ids {
		score := result.Scores[id]
		if i == 0 || score < minScore {
			minScore = score
		}
		if i == 0 || score > maxScore {
			maxScore = score
		}
		techniques = append(techniques, LayerTechnique{
			TechniqueID: id,
			Score:       score,
			Enabled:     true,
			Comment:     fmt.Sprintf("Score: %.2f", score),
		})
	}

	description := cfg.Description
	if description == "" {
		description = "Generated heatmap"
	}

	metadata := []LayerMetadata{
		{Name: "Generated by", Value: "attackmap"},
		{Name: "Run ID", Value: result.RunID},
		{Name: "Matrix", Value: string(cfg.Matrix)},
		{Name: "Techniques", Value: fmt.Sprintf("%d", len(techniques))},
	}
	metaKeys := make([]string, 0, len(result.Metadata))
	for key := range result.Metadata {
		if key == "matrix_type" || key == "total_techniques" {
			continue
		}
		metaKeys = append(metaKeys, key)
	}
	sort.Strings(metaKeys)
	for _, key := range metaKeys {
		metadata = append(metadata, LayerMetadata{
			Name:  strings.ReplaceAll(key, "_", " "),
			Value: result.Metadata[key],
		})
	}

	platforms := cfg.Platforms
	if platforms == nil {
		platforms = []string{}
	}

	return Layer{
		Name: cfg.Title,
		Versions: LayerVersions{
			Attack:    "17",
			Navigator: "5.2.0",
			Layer:     "4.5",
		},
		Domain:      string(cfg.Matrix),
		Description: description,
		Filters:     LayerFilters{Platforms: platforms},
		Sorting:     3, // score descending
		Layout: LayerLayout{
			Layout:            "side",
			AggregateFunction: "average",
			ShowName:          true,
		},
		Techniques: techniques,
		Gradient: LayerGradient{
			Colors:   []string{gradient.MinColor, gradient.MidColor, gradient.MaxColor},
			MinValue: minScore,
			MaxValue: maxScore,
		},
		LegendItems:                   []LayerLegend{},
		Metadata:                      metadata,
		Links:                         []LayerLink{},
		ShowTacticRowBackground:       true,
		TacticRowBackground:           "#dddddd",
		SelectTechniquesAcrossTactics: true,
		SelectSubtechniquesWithParent: true,
	}
}

// Statistics summarizes a result's score distribution.
type Statistics struct {
	TotalTechniques  int     `json:"total_techniques"`
	ParentTechniques int     `json:"parent_techniques"`
	SubTechniques    int     `json:"sub_techniques"`
	MinScore         float64 `json:"min_score"`
	MaxScore         float64 `json:"max_score"`
	MeanScore        float64 `json:"mean_score"`
	MedianScore      float64 `json:"median_score"`
}

// Stats derives summary statistics from the result's score map.
func (r *Result) Stats() Statistics {
	if len(r.Scores) == 0 {
		return Statistics{}
	}

	scores := make([]float64, 0, len(r.Scores))
	stats := Statistics{TotalTechniques: len(r.Scores)}
	sum := 0.0
	for id, score := range r.Scores {
		if strings.Contains(id, ".") {
			stats.SubTechniques++
		} else {
			stats.ParentTechniques++
		}
		scores = append(scores, score)
		sum += score
	}
	sort.Float64s(scores)

	stats.MinScore = scores[0]
	stats.MaxScore = scores[len(scores)-1]
	stats.MeanScore = sum / float64(len(scores))
	stats.MedianScore = scores[len(scores)/2]
	return stats
}
