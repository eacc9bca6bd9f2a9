// Package validate provides structured pass/fail checks for technique
// identifiers, search terms, file paths, thresholds, and configuration.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"attackmap/internal/config"
)

// techniquePattern matches T#### and T####.### identifiers (already
// uppercased before matching).
var techniquePattern = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)

// Result is the outcome of a validation check. Errors make the result
// invalid; warnings never do.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func ok(warnings ...string) Result {
	return Result{Valid: true, Warnings: warnings}
}

func fail(errs ...string) Result {
	return Result{Valid: false, Errors: errs}
}

// Validator checks inputs against the configured rules. It performs no I/O
// beyond file stat calls.
type Validator struct {
	rules  config.Rules
	logger *zap.Logger
}

// New creates a validator with the given rules.
func New(rules config.Rules, logger *zap.Logger) *Validator {
	return &Validator{rules: rules, logger: logger}
}

// TechniqueID validates a single technique identifier and returns its
// normalized (uppercase, trimmed) form.
func (v *Validator) TechniqueID(id string) (string, Result) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return "", fail("technique ID cannot be empty")
	}
	if !techniquePattern.MatchString(id) {
		return "", fail(fmt.Sprintf(
			"invalid technique ID format: %q (expected T#### or T####.###)", id))
	}

	var warnings []string
	if strings.HasPrefix(id, "T0") {
		warnings = append(warnings, fmt.Sprintf(
			"technique ID %s may be from the ICS matrix; check the matrix type", id))
	}
	return id, ok(warnings...)
}

// TechniqueList validates a list of technique identifiers, returning the
// normalized, deduplicated list. Order of first occurrence is preserved.
func (v *Validator) TechniqueList(ids []string) ([]string, Result) {
	if len(ids) == 0 {
		return nil, fail("technique list cannot be empty")
	}
	if len(ids) > v.rules.MaxTechniqueIDs {
		return nil, fail(fmt.Sprintf(
			"too many technique IDs: %d (maximum %d)", len(ids), v.rules.MaxTechniqueIDs))
	}

	var (
		errs     []string
		warnings []string
		valid    []string
		seen     = make(map[string]bool)
		dupes    int
	)
	for i, raw := range ids {
		id, res := v.TechniqueID(raw)
		if !res.Valid {
			for _, e := range res.Errors {
				errs = append(errs, fmt.Sprintf("item %d: %s", i, e))
			}
			continue
		}
		warnings = append(warnings, res.Warnings...)
		if seen[id] {
			dupes++
			continue
		}
		seen[id] = true
		valid = append(valid, id)
	}

	if dupes > 0 {
		warnings = append(warnings, fmt.Sprintf("%d duplicate technique IDs removed", dupes))
	}
	if len(errs) > 0 {
		return nil, Result{Valid: false, Errors: errs, Warnings: warnings}
	}

	v.logger.Debug("validated technique list",
		zap.Int("input", len(ids)), zap.Int("unique", len(valid)))
	return valid, ok(warnings...)
}

// SearchTerms validates group search keywords and returns the trimmed terms.
func (v *Validator) SearchTerms(terms []string) ([]string, Result) {
	if len(terms) == 0 {
		return nil, fail("search terms cannot be empty")
	}
	if len(terms) > v.rules.MaxSearchTerms {
		return nil, fail(fmt.Sprintf(
			"too many search terms: %d (maximum %d)", len(terms), v.rules.MaxSearchTerms))
	}

	var (
		warnings  []string
		sanitized []string
	)
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			warnings = append(warnings, "ignoring empty search term")
			continue
		}
		if strings.ContainsAny(term, `<>"'`) {
			warnings = append(warnings, fmt.Sprintf(
				"search term %q contains special characters that may affect results", term))
		}
		if term != "*" && len(term) < 2 {
			warnings = append(warnings, fmt.Sprintf("very short search term: %q", term))
		} else if len(term) > 100 {
			warnings = append(warnings, fmt.Sprintf("very long search term: %q", term))
		}
		sanitized = append(sanitized, term)
	}

	if len(sanitized) == 0 {
		return nil, Result{Valid: false,
			Errors:   []string{"no valid search terms provided after filtering"},
			Warnings: warnings}
	}
	return sanitized, ok(warnings...)
}

// FilePath validates a file path against existence, extension, and size
// rules, returning the absolute path.
func (v *Validator) FilePath(path string, mustExist bool, allowedExts []string) (string, Result) {
	if strings.TrimSpace(path) == "" {
		return "", fail("file path cannot be empty")
	}

	if mustExist {
		info, err := os.Stat(path)
		if err != nil {
			return "", fail(fmt.Sprintf("file does not exist: %s", path))
		}
		if info.IsDir() {
			return "", fail(fmt.Sprintf("path is not a file: %s", path))
		}

		sizeMB := info.Size() / (1024 * 1024)
		if sizeMB > v.rules.MaxFileSizeMB {
			return "", fail(fmt.Sprintf(
				"file too large: %dMB (maximum %dMB)", sizeMB, v.rules.MaxFileSizeMB))
		}
	}

	if len(allowedExts) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		allowed := false
		for _, a := range allowedExts {
			if ext == strings.ToLower(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fail(fmt.Sprintf(
				"invalid file extension %q (allowed: %s)", ext, strings.Join(allowedExts, ", ")))
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return abs, ok()
}

// Threshold validates a count threshold.
func (v *Validator) Threshold(threshold int) Result {
	if threshold < v.rules.MinThreshold {
		return fail(fmt.Sprintf("threshold too low: %d (minimum %d)", threshold, v.rules.MinThreshold))
	}
	if threshold > v.rules.MaxThreshold {
		return fail(fmt.Sprintf("threshold too high: %d (maximum %d)", threshold, v.rules.MaxThreshold))
	}
	if threshold > 50 {
		return ok(fmt.Sprintf("high threshold value %d may filter out most techniques", threshold))
	}
	return ok()
}

// Platforms validates platform filter keys against the known mappings and
// returns the recognized keys, lowercased.
func (v *Validator) Platforms(platforms []string) ([]string, Result) {
	var (
		valid    []string
		warnings []string
	)
	for _, p := range platforms {
		key := strings.ToLower(p)
		if _, known := config.PlatformMappings[key]; known {
			valid = append(valid, key)
		} else {
			warnings = append(warnings, fmt.Sprintf("unknown platform: %q", p))
		}
	}
	if len(valid) == 0 && len(platforms) > 0 {
		return nil, Result{Valid: false,
			Errors:   []string{"no valid platforms provided"},
			Warnings: warnings}
	}
	return valid, ok(warnings...)
}

// Config validates a full configuration before any I/O is attempted.
func (v *Validator) Config(cfg config.Config) Result {
	var (
		errs     []string
		warnings []string
	)

	if !cfg.Matrix.Valid() {
		errs = append(errs, fmt.Sprintf("unknown matrix type: %q", cfg.Matrix))
	}

	tr := v.Threshold(cfg.Threshold)
	errs = append(errs, tr.Errors...)
	warnings = append(warnings, tr.Warnings...)

	if len(cfg.Platforms) > 0 {
		_, pr := v.Platforms(cfg.Platforms)
		errs = append(errs, pr.Errors...)
		warnings = append(warnings, pr.Warnings...)
	}

	if cfg.Cache.Enabled {
		if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
			warnings = append(warnings, fmt.Sprintf(
				"cannot create cache directory %s: %v (caching will be disabled)", cfg.Cache.Dir, err))
		}
	}

	if len(errs) > 0 {
		v.logger.Error("configuration validation failed", zap.Strings("errors", errs))
		return Result{Valid: false, Errors: errs, Warnings: warnings}
	}
	return ok(warnings...)
}
