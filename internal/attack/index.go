package attack

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// GroupMatch pairs a group's STIX identifier with its raw record.
type GroupMatch struct {
	StixID string
	Record Object
}

// Index holds the corpus partitioned into queryable collections. Technique
// and group records are keyed by STIX id because STIX ids are the join key
// for relationships; the T####-style identifier is derived on demand.
type Index struct {
	mu            sync.RWMutex
	techniques    map[string]Object
	groups        map[string]Object
	relationships []Object
	logger        *zap.Logger
}

// NewIndex creates an empty corpus index.
func NewIndex(logger *zap.Logger) *Index {
	return &Index{
		techniques: make(map[string]Object),
		groups:     make(map[string]Object),
		logger:     logger,
	}
}

// Build partitions a bundle's objects into the three collections,
// discarding unrecognized object types. Rebuilding replaces prior state
// entirely.
func (ix *Index) Build(bundle *Bundle) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.techniques = make(map[string]Object)
	ix.groups = make(map[string]Object)
	ix.relationships = nil

	for _, obj := range bundle.Objects {
		switch obj.Type {
		case "attack-pattern":
			if obj.ID != "" {
				ix.techniques[obj.ID] = obj
			}
		case "intrusion-set":
			if obj.ID != "" {
				ix.groups[obj.ID] = obj
			}
		case "relationship":
			ix.relationships = append(ix.relationships, obj)
		}
	}

	deprecated := 0
	for _, t := range ix.techniques {
		if t.Excluded() {
			deprecated++
		}
	}
	ix.logger.Info("corpus indexed",
		zap.Int("techniques", len(ix.techniques)),
		zap.Int("excluded_techniques", deprecated),
		zap.Int("groups", len(ix.groups)),
		zap.Int("relationships", len(ix.relationships)))
}

// TechniqueCount returns the number of indexed technique records.
func (ix *Index) TechniqueCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.techniques)
}

// AllGroups returns every group that is neither revoked nor deprecated.
// Used for the wildcard search path.
func (ix *Index) AllGroups() []GroupMatch {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches := make([]GroupMatch, 0, len(ix.groups))
	for id, g := range ix.groups {
		if g.Excluded() {
			continue
		}
		matches = append(matches, GroupMatch{StixID: id, Record: g})
	}
	return matches
}

// SearchGroupsByKeywords returns groups whose name, description, or aliases
// contain any of the keywords. Revoked and deprecated groups are always
// excluded from candidacy.
func (ix *Index) SearchGroupsByKeywords(keywords []string, caseSensitive bool) []GroupMatch {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	terms := keywords
	if !caseSensitive {
		terms = make([]string, len(keywords))
		for i, k := range keywords {
			terms[i] = strings.ToLower(k)
		}
	}

	var matches []GroupMatch
	for id, g := range ix.groups {
		if g.Excluded() {
			continue
		}

		searchable := g.Name + " " + g.Description + " " + strings.Join(g.Aliases, " ")
		if !caseSensitive {
			searchable = strings.ToLower(searchable)
		}

		for _, term := range terms {
			if strings.Contains(searchable, term) {
				matches = append(matches, GroupMatch{StixID: id, Record: g})
				ix.logger.Debug("group matched",
					zap.String("name", g.Name), zap.String("stix_id", id))
				break
			}
		}
	}

	ix.logger.Info("group search complete",
		zap.Strings("keywords", keywords), zap.Int("matched", len(matches)))
	return matches
}

// TechniquesForGroups walks every "uses" relationship whose source is one of
// the given groups and whose target resolves to a live technique record,
// counting one use per relationship keyed by the canonical technique
// identifier. Relationships whose target cannot be resolved are silently
// skipped; the corpus naturally accumulates such gaps as it evolves.
func (ix *Index) TechniquesForGroups(groupStixIDs []string, includeSubtechniques bool) map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	groupSet := make(map[string]bool, len(groupStixIDs))
	for _, id := range groupStixIDs {
		groupSet[id] = true
	}

	counts := make(map[string]int)
	for _, rel := range ix.relationships {
		if rel.RelationshipType != "uses" {
			continue
		}
		if !groupSet[rel.SourceRef] {
			continue
		}
		if !strings.HasPrefix(rel.TargetRef, "attack-pattern--") {
			continue
		}

		tech, found := ix.techniques[rel.TargetRef]
		if !found || tech.Excluded() {
			continue
		}

		attackID := tech.AttackID()
		if attackID == "" {
			continue
		}
		if !includeSubtechniques && strings.Contains(attackID, ".") {
			continue
		}
		counts[attackID]++
	}

	ix.logger.Info("resolved group technique usage",
		zap.Int("groups", len(groupStixIDs)), zap.Int("techniques", len(counts)))
	return counts
}

// TechniqueDetails looks up a technique record by canonical identifier
// (T1059) or raw STIX id. The canonical path is a linear scan; it runs only
// for detail lookups, never in the aggregation hot path.
func (ix *Index) TechniqueDetails(id string) (Object, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if strings.HasPrefix(id, "attack-pattern--") {
		obj, found := ix.techniques[id]
		return obj, found
	}
	for _, obj := range ix.techniques {
		if obj.AttackID() == id {
			return obj, true
		}
	}
	return Object{}, false
}
