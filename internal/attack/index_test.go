package attack

import (
	"testing"

	"go.uber.org/zap"
)

func testBundle() *Bundle {
	return &Bundle{
		Type: "bundle",
		ID:   "bundle--test",
		Objects: []Object{
			{
				Type: "intrusion-set", ID: "intrusion-set--g1",
				Name:        "Sandworm Team",
				Description: "Destructive operations against ENERGY infrastructure.",
				Aliases:     []string{"ELECTRUM", "Voodoo Bear"},
			},
			{
				Type: "intrusion-set", ID: "intrusion-set--g2",
				Name:        "Lazarus Group",
				Description: "Financially motivated.",
			},
			{
				Type: "intrusion-set", ID: "intrusion-set--g3",
				Name:        "Energetic Bear",
				Description: "Energy sector intrusions.",
				Revoked:     true,
			},
			{
				Type: "attack-pattern", ID: "attack-pattern--t1",
				Name: "Command and Scripting Interpreter",
				ExternalReferences: []ExternalReference{
					{SourceName: "mitre-attack", ExternalID: "T1059"},
				},
			},
			{
				Type: "attack-pattern", ID: "attack-pattern--t2",
				Name: "PowerShell",
				ExternalReferences: []ExternalReference{
					{SourceName: "capec", ExternalID: "CAPEC-242"},
					{SourceName: "mitre-attack", ExternalID: "T1059.001"},
				},
			},
			{
				Type: "attack-pattern", ID: "attack-pattern--t3",
				Name:       "OS Credential Dumping",
				Deprecated: true,
				ExternalReferences: []ExternalReference{
					{SourceName: "mitre-attack", ExternalID: "T1003"},
				},
			},
			{Type: "relationship", ID: "relationship--r1", RelationshipType: "uses",
				SourceRef: "intrusion-set--g1", TargetRef: "attack-pattern--t1"},
			{Type: "relationship", ID: "relationship--r2", RelationshipType: "uses",
				SourceRef: "intrusion-set--g1", TargetRef: "attack-pattern--t2"},
			{Type: "relationship", ID: "relationship--r3", RelationshipType: "uses",
				SourceRef: "intrusion-set--g2", TargetRef: "attack-pattern--t1"},
			{Type: "relationship", ID: "relationship--r4", RelationshipType: "uses",
				SourceRef: "intrusion-set--g1", TargetRef: "attack-pattern--t3"},
			{Type: "relationship", ID: "relationship--r5", RelationshipType: "uses",
				SourceRef: "intrusion-set--g1", TargetRef: "attack-pattern--missing"},
			{Type: "relationship", ID: "relationship--r6", RelationshipType: "mitigates",
				SourceRef: "course-of-action--m1", TargetRef: "attack-pattern--t1"},
			{Type: "marking-definition", ID: "marking-definition--x1"},
		},
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(zap.NewNop())
	ix.Build(testBundle())
	return ix
}

func TestIndexBuild(t *testing.T) {
	ix := newTestIndex(t)
	if ix.TechniqueCount() != 3 {
		t.Errorf("technique count = %d, want 3", ix.TechniqueCount())
	}

	// Rebuild replaces state instead of accumulating.
	ix.Build(&Bundle{Objects: []Object{
		{Type: "attack-pattern", ID: "attack-pattern--solo"},
	}})
	if ix.TechniqueCount() != 1 {
		t.Errorf("technique count after rebuild = %d, want 1", ix.TechniqueCount())
	}
}

func TestSearchGroupsByKeywords(t *testing.T) {
	ix := newTestIndex(t)

	t.Run("matches name, description, and aliases", func(t *testing.T) {
		for _, keyword := range []string{"sandworm", "voodoo", "destructive"} {
			matches := ix.SearchGroupsByKeywords([]string{keyword}, false)
			if len(matches) != 1 || matches[0].Record.Name != "Sandworm Team" {
				t.Errorf("keyword %q matched %v", keyword, matches)
			}
		}
	})

	t.Run("revoked groups never match", func(t *testing.T) {
		matches := ix.SearchGroupsByKeywords([]string{"energy"}, false)
		for _, m := range matches {
			if m.Record.Name == "Energetic Bear" {
				t.Error("revoked group matched the search")
			}
		}
		if len(matches) != 1 {
			t.Errorf("energy matched %d groups, want 1 (Sandworm only)", len(matches))
		}
	})

	t.Run("case-insensitive by default", func(t *testing.T) {
		if len(ix.SearchGroupsByKeywords([]string{"LAZARUS"}, false)) != 1 {
			t.Error("uppercase keyword should match lowercased records")
		}
	})

	t.Run("case-sensitive mode respects case", func(t *testing.T) {
		if len(ix.SearchGroupsByKeywords([]string{"lazarus"}, true)) != 0 {
			t.Error("case-sensitive search should not match differing case")
		}
		if len(ix.SearchGroupsByKeywords([]string{"Lazarus"}, true)) != 1 {
			t.Error("case-sensitive search should match exact case")
		}
	})

	t.Run("each group matches at most once", func(t *testing.T) {
		matches := ix.SearchGroupsByKeywords([]string{"sandworm", "electrum"}, false)
		if len(matches) != 1 {
			t.Errorf("got %d matches, want 1", len(matches))
		}
	})
}

func TestAllGroups(t *testing.T) {
	groups := newTestIndex(t).AllGroups()
	if len(groups) != 2 {
		t.Errorf("AllGroups returned %d, want 2 (revoked excluded)", len(groups))
	}
}

func TestTechniquesForGroups(t *testing.T) {
	ix := newTestIndex(t)

	t.Run("counts one use per relationship", func(t *testing.T) {
		counts := ix.TechniquesForGroups(
			[]string{"intrusion-set--g1", "intrusion-set--g2"}, true)
		if counts["T1059"] != 2 {
			t.Errorf("T1059 = %d, want 2", counts["T1059"])
		}
		if counts["T1059.001"] != 1 {
			t.Errorf("T1059.001 = %d, want 1", counts["T1059.001"])
		}
	})

	t.Run("deprecated and dangling targets are skipped", func(t *testing.T) {
		counts := ix.TechniquesForGroups([]string{"intrusion-set--g1"}, true)
		if _, found := counts["T1003"]; found {
			t.Error("deprecated technique counted")
		}
		if len(counts) != 2 {
			t.Errorf("counts = %v, want exactly T1059 and T1059.001", counts)
		}
	})

	t.Run("sub-techniques can be excluded", func(t *testing.T) {
		counts := ix.TechniquesForGroups([]string{"intrusion-set--g1"}, false)
		if _, found := counts["T1059.001"]; found {
			t.Error("sub-technique counted with includeSubtechniques=false")
		}
	})

	t.Run("non-uses relationships are ignored", func(t *testing.T) {
		counts := ix.TechniquesForGroups([]string{"course-of-action--m1"}, true)
		if len(counts) != 0 {
			t.Errorf("mitigates relationship counted: %v", counts)
		}
	})
}

func TestTechniqueDetails(t *testing.T) {
	ix := newTestIndex(t)

	t.Run("by STIX id", func(t *testing.T) {
		obj, found := ix.TechniqueDetails("attack-pattern--t1")
		if !found || obj.Name != "Command and Scripting Interpreter" {
			t.Errorf("lookup by STIX id failed: %v %v", obj, found)
		}
	})

	t.Run("by canonical identifier", func(t *testing.T) {
		obj, found := ix.TechniqueDetails("T1059.001")
		if !found || obj.Name != "PowerShell" {
			t.Errorf("lookup by canonical id failed: %v %v", obj, found)
		}
	})

	t.Run("missing identifier", func(t *testing.T) {
		if _, found := ix.TechniqueDetails("T9999"); found {
			t.Error("lookup of unknown id should fail")
		}
	})
}

func TestAttackID(t *testing.T) {
	obj := Object{ExternalReferences: []ExternalReference{
		{SourceName: "capec", ExternalID: "CAPEC-1"},
		{SourceName: "mitre-attack", ExternalID: "T1566"},
	}}
	if got := obj.AttackID(); got != "T1566" {
		t.Errorf("AttackID = %q, want T1566", got)
	}
	if got := (Object{}).AttackID(); got != "" {
		t.Errorf("AttackID of empty object = %q, want empty", got)
	}
}
