package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"attackmap/internal/config"
)

func newTestValidator() *Validator {
	return New(config.Default().Rules, zap.NewNop())
}

func TestTechniqueID(t *testing.T) {
	v := newTestValidator()

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		id, res := v.TechniqueID("  t1059.001 ")
		if !res.Valid || id != "T1059.001" {
			t.Errorf("got %q valid=%v, want T1059.001", id, res.Valid)
		}
	})

	t.Run("accepts parent and sub-technique forms", func(t *testing.T) {
		for _, id := range []string{"T1059", "T1059.001", "T0890"} {
			if _, res := v.TechniqueID(id); !res.Valid {
				t.Errorf("%s rejected: %v", id, res.Errors)
			}
		}
	})

	t.Run("rejects malformed identifiers", func(t *testing.T) {
		for _, id := range []string{"", "1059", "T105", "T10590", "T1059.1", "T1059.0001", "TA0001", "T1059x"} {
			if _, res := v.TechniqueID(id); res.Valid {
				t.Errorf("%q accepted, want rejection", id)
			}
		}
	})

	t.Run("warns on possible ICS identifiers", func(t *testing.T) {
		_, res := v.TechniqueID("T0890")
		if len(res.Warnings) == 0 {
			t.Error("T0 prefix should warn about the ICS matrix")
		}
	})
}

func TestTechniqueList(t *testing.T) {
	v := newTestValidator()

	t.Run("deduplicates preserving first occurrence", func(t *testing.T) {
		ids, res := v.TechniqueList([]string{"T1003", "t1059", "T1003", "T1059"})
		if !res.Valid {
			t.Fatalf("unexpected errors: %v", res.Errors)
		}
		if len(ids) != 2 || ids[0] != "T1003" || ids[1] != "T1059" {
			t.Errorf("ids = %v, want [T1003 T1059]", ids)
		}
		if len(res.Warnings) == 0 {
			t.Error("expected a duplicate-removal warning")
		}
	})

	t.Run("rejects empty list", func(t *testing.T) {
		if _, res := v.TechniqueList(nil); res.Valid {
			t.Error("empty list accepted")
		}
	})

	t.Run("rejects oversized list", func(t *testing.T) {
		ids := make([]string, 1001)
		for i := range ids {
			ids[i] = "T1059"
		}
		if _, res := v.TechniqueList(ids); res.Valid {
			t.Error("list over the limit accepted")
		}
	})

	t.Run("reports position of invalid items", func(t *testing.T) {
		_, res := v.TechniqueList([]string{"T1059", "bogus"})
		if res.Valid {
			t.Fatal("invalid item accepted")
		}
		if !strings.Contains(res.Errors[0], "item 1") {
			t.Errorf("error %q does not name the offending item", res.Errors[0])
		}
	})
}

func TestSearchTerms(t *testing.T) {
	v := newTestValidator()

	t.Run("trims and keeps valid terms", func(t *testing.T) {
		terms, res := v.SearchTerms([]string{" apt29 ", "energy"})
		if !res.Valid || len(terms) != 2 || terms[0] != "apt29" {
			t.Errorf("terms = %v valid=%v", terms, res.Valid)
		}
	})

	t.Run("wildcard passes without warnings", func(t *testing.T) {
		terms, res := v.SearchTerms([]string{"*"})
		if !res.Valid || len(terms) != 1 {
			t.Fatalf("wildcard rejected: %v", res.Errors)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("wildcard produced warnings: %v", res.Warnings)
		}
	})

	t.Run("all-empty input is invalid", func(t *testing.T) {
		if _, res := v.SearchTerms([]string{"", "  "}); res.Valid {
			t.Error("blank terms accepted")
		}
	})

	t.Run("special characters warn but pass", func(t *testing.T) {
		terms, res := v.SearchTerms([]string{`apt<script>`})
		if !res.Valid || len(terms) != 1 {
			t.Fatal("term with special characters should still pass")
		}
		if len(res.Warnings) == 0 {
			t.Error("expected a special-character warning")
		}
	})

	t.Run("rejects too many terms", func(t *testing.T) {
		terms := make([]string, 51)
		for i := range terms {
			terms[i] = "apt"
		}
		if _, res := v.SearchTerms(terms); res.Valid {
			t.Error("over-limit term list accepted")
		}
	})
}

func TestFilePath(t *testing.T) {
	v := newTestValidator()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("existing file with allowed extension", func(t *testing.T) {
		abs, res := v.FilePath(path, true, []string{".json"})
		if !res.Valid {
			t.Fatalf("rejected: %v", res.Errors)
		}
		if !filepath.IsAbs(abs) {
			t.Errorf("returned path %q is not absolute", abs)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, res := v.FilePath(filepath.Join(dir, "nope.json"), true, nil); res.Valid {
			t.Error("missing file accepted")
		}
	})

	t.Run("directory is not a file", func(t *testing.T) {
		if _, res := v.FilePath(dir, true, nil); res.Valid {
			t.Error("directory accepted as file")
		}
	})

	t.Run("wrong extension", func(t *testing.T) {
		if _, res := v.FilePath(path, true, []string{".csv"}); res.Valid {
			t.Error("disallowed extension accepted")
		}
	})
}

func TestThreshold(t *testing.T) {
	v := newTestValidator()

	if res := v.Threshold(-1); res.Valid {
		t.Error("negative threshold accepted")
	}
	if res := v.Threshold(1001); res.Valid {
		t.Error("threshold above maximum accepted")
	}
	if res := v.Threshold(0); !res.Valid {
		t.Errorf("zero threshold rejected: %v", res.Errors)
	}
	if res := v.Threshold(60); !res.Valid || len(res.Warnings) == 0 {
		t.Error("high threshold should pass with a warning")
	}
}

func TestPlatforms(t *testing.T) {
	v := newTestValidator()

	t.Run("lowercases known keys", func(t *testing.T) {
		keys, res := v.Platforms([]string{"Windows", "CLOUD"})
		if !res.Valid || len(keys) != 2 || keys[0] != "windows" || keys[1] != "cloud" {
			t.Errorf("keys = %v valid=%v", keys, res.Valid)
		}
	})

	t.Run("unknown keys warn, all-unknown fails", func(t *testing.T) {
		keys, res := v.Platforms([]string{"windows", "beos"})
		if !res.Valid || len(keys) != 1 || len(res.Warnings) == 0 {
			t.Errorf("keys = %v warnings = %v", keys, res.Warnings)
		}
		if _, res := v.Platforms([]string{"beos"}); res.Valid {
			t.Error("all-unknown platform list accepted")
		}
	})
}

func TestConfigValidation(t *testing.T) {
	v := newTestValidator()

	t.Run("default config passes", func(t *testing.T) {
		cfg := config.Default()
		cfg.Cache.Dir = t.TempDir()
		if res := v.Config(cfg); !res.Valid {
			t.Errorf("default config rejected: %v", res.Errors)
		}
	})

	t.Run("unknown matrix fails", func(t *testing.T) {
		cfg := config.Default()
		cfg.Cache.Dir = t.TempDir()
		cfg.Matrix = config.MatrixType("cloud-attack")
		if res := v.Config(cfg); res.Valid {
			t.Error("unknown matrix accepted")
		}
	})

	t.Run("bad threshold fails", func(t *testing.T) {
		cfg := config.Default()
		cfg.Cache.Dir = t.TempDir()
		cfg.Threshold = -5
		if res := v.Config(cfg); res.Valid {
			t.Error("negative threshold accepted")
		}
	})
}
