// Package search maintains an in-memory full-text index over a corpus for
// ranked lookups of techniques and groups. It backs the server's search API
// and complements the exact substring matching the generator uses.
package search

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"attackmap/internal/attack"
)

// Document is the indexed shape of a technique or group.
type Document struct {
	AttackID    string   `json:"attack_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
	Platforms   []string `json:"platforms"`
	Kind        string   `json:"kind"`
	Type        string   `json:"type"`
}

// Hit is a single ranked search result.
type Hit struct {
	StixID   string  `json:"stix_id"`
	AttackID string  `json:"attack_id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Score    float64 `json:"score"`
}

// Index wraps an in-memory bleve index over corpus objects.
type Index struct {
	idx    bleve.Index
	logger *zap.Logger
}

// NewIndex creates an empty in-memory index with the corpus mapping.
func NewIndex(logger *zap.Logger) (*Index, error) {
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	textFieldMapping := bleve.NewTextFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("attack_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("platforms", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("description", textFieldMapping)
	docMapping.AddFieldMappingsAt("aliases", textFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("corpus", docMapping)

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	return &Index{idx: idx, logger: logger}, nil
}

// IndexBundle indexes every live technique and group in the bundle,
// committing in batches.
func (i *Index) IndexBundle(bundle *attack.Bundle) error {
	batch := i.idx.NewBatch()
	count := 0

	for _, obj := range bundle.Objects {
		if obj.Excluded() {
			continue
		}

		var kind string
		switch obj.Type {
		case "attack-pattern":
			kind = "technique"
		case "intrusion-set":
			kind = "group"
		default:
			continue
		}

		doc := Document{
			AttackID:    obj.AttackID(),
			Name:        obj.Name,
			Description: obj.Description,
			Aliases:     obj.Aliases,
			Platforms:   obj.Platforms,
			Kind:        kind,
			Type:        "corpus",
		}
		if err := batch.Index(obj.ID, doc); err != nil {
			return fmt.Errorf("indexing %s: %w", obj.ID, err)
		}
		count++

		if batch.Size() >= 100 {
			if err := i.idx.Batch(batch); err != nil {
				return fmt.Errorf("committing index batch: %w", err)
			}
			batch = i.idx.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := i.idx.Batch(batch); err != nil {
			return fmt.Errorf("committing index batch: %w", err)
		}
	}

	i.logger.Info("search index built", zap.Int("documents", count))
	return nil
}

// Search runs a ranked match query, optionally restricted to one kind
// ("technique" or "group"). Size caps the number of hits.
func (i *Index) Search(queryStr, kind string, size int) ([]Hit, error) {
	if strings.TrimSpace(queryStr) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if size <= 0 {
		size = 10
	}

	query := bleve.NewMatchQuery(queryStr)
	searchRequest := bleve.NewSearchRequest(query)
	searchRequest.Fields = []string{"attack_id", "name", "kind"}
	searchRequest.Size = size * 2

	searchResults, err := i.idx.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var hits []Hit
	for _, hit := range searchResults.Hits {
		hitKind, _ := hit.Fields["kind"].(string)
		if kind != "" && hitKind != kind {
			continue
		}
		attackID, _ := hit.Fields["attack_id"].(string)
		name, _ := hit.Fields["name"].(string)
		hits = append(hits, Hit{
			StixID:   hit.ID,
			AttackID: attackID,
			Name:     name,
			Kind:     hitKind,
			Score:    hit.Score,
		})
		if len(hits) >= size {
			break
		}
	}
	return hits, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.idx.Close()
}
