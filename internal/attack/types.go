// Package attack fetches, caches, and indexes the MITRE ATT&CK STIX corpus.
package attack

// Bundle is the top-level structure of an ATT&CK STIX document.
type Bundle struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Objects []Object `json:"objects"`
}

// Object is a single raw STIX record. Only the fields the pipeline reads
// are decoded; the three object types of interest share this shape.
type Object struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Aliases            []string            `json:"aliases"`
	Revoked            bool                `json:"revoked"`
	Deprecated         bool                `json:"x_mitre_deprecated"`
	Platforms          []string            `json:"x_mitre_platforms"`
	ExternalReferences []ExternalReference `json:"external_references"`

	// Relationship fields.
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

// ExternalReference carries the mapping to the ATT&CK identifier, e.g. "T1059".
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// AttackID extracts the canonical technique identifier (T#### or T####.###)
// from the object's external references. Returns "" when the object carries
// no ATT&CK reference.
func (o Object) AttackID() string {
	for _, ref := range o.ExternalReferences {
		if ref.SourceName == "mitre-attack" {
			return ref.ExternalID
		}
	}
	return ""
}

// Excluded reports whether the object is revoked or deprecated. Excluded
// records never participate in search or aggregation.
func (o Object) Excluded() bool {
	return o.Revoked || o.Deprecated
}
