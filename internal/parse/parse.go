// Package parse extracts technique identifiers from the supported input
// formats: plain lists, JSON files, CSV/TSV files, STIX bundles, and free
// text.
package parse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"attackmap/internal/validate"
)

// Format is the closed set of recognized input formats.
type Format int

const (
	FormatTechniqueList Format = iota
	FormatJSON
	FormatCSV
	FormatSTIX
	FormatText
)

// String returns the format's flag-facing name.
func (f Format) String() string {
	switch f {
	case FormatTechniqueList:
		return "list"
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	case FormatSTIX:
		return "stix"
	case FormatText:
		return "text"
	}
	return "unknown"
}

// FormatFromName maps an explicit format flag to a Format. The boolean is
// false for unrecognized names.
func FormatFromName(name string) (Format, bool) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, true
	case "csv", "tsv":
		return FormatCSV, true
	case "stix":
		return FormatSTIX, true
	case "text", "txt":
		return FormatText, true
	case "list":
		return FormatTechniqueList, true
	}
	return FormatJSON, false
}

// DetectFormat maps a file's extension plus an optional content probe to a
// Format. A .json file whose probe contains "type": "bundle" is treated as
// a STIX bundle. Pure function; the caller supplies the probe bytes.
func DetectFormat(path string, probe []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if bytes.Contains(probe, []byte(`"bundle"`)) {
			return FormatSTIX
		}
		return FormatJSON
	case ".csv", ".tsv":
		return FormatCSV
	case ".txt", ".md", ".log", ".report":
		return FormatText
	default:
		return FormatJSON
	}
}

// techniqueIDPattern finds technique identifiers in free text.
var techniqueIDPattern = regexp.MustCompile(`(?i)\bT\d{4}(\.\d{3})?\b`)

// candidateIDFields are the JSON object keys checked, in order, when
// extracting a technique identifier from a structured item.
var candidateIDFields = []string{
	"techniqueID", "technique_id", "id", "technique", "ttp", "attack_id",
}

// candidateListFields are the top-level JSON keys that may hold a technique
// list, checked in order.
var candidateListFields = []string{
	"techniques", "ttps", "technique_ids", "objects", "data", "items", "entries",
}

// candidateColumns are the CSV header names recognized as the technique
// column when none is given explicitly.
var candidateColumns = []string{
	"technique_id", "techniqueid", "technique id",
	"ttp", "ttps", "technique", "techniques",
	"attack_id", "attackid", "attack id",
	"mitre_id", "mitreid", "mitre id",
	"id",
}

// Parser extracts and validates technique identifiers from input sources.
type Parser struct {
	validator *validate.Validator
	logger    *zap.Logger
}

// New creates a parser backed by the given validator.
func New(validator *validate.Validator, logger *zap.Logger) *Parser {
	return &Parser{validator: validator, logger: logger}
}

// TechniqueList validates an already-split list of identifiers.
func (p *Parser) TechniqueList(ids []string) ([]string, error) {
	return p.finish(ids, "technique list")
}

// JSONFile extracts technique identifiers from a JSON document. Direct
// arrays, Navigator layers, and several common field layouts are accepted.
func (p *Parser) JSONFile(path string) ([]string, error) {
	path, res := p.validator.FilePath(path, true, []string{".json"})
	if !res.Valid {
		return nil, fmt.Errorf("invalid input file: %s", strings.Join(res.Errors, "; "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading JSON file: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON file: %w", err)
	}

	ids := extractFromJSON(doc)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no techniques found in JSON file %s", path)
	}

	p.logger.Info("extracted techniques from JSON",
		zap.String("file", path), zap.Int("count", len(ids)))
	return p.finish(ids, path)
}

// CSVFile extracts technique identifiers from a CSV or TSV file. When
// column is empty the technique column is auto-detected from the header.
func (p *Parser) CSVFile(path, column string) ([]string, error) {
	path, res := p.validator.FilePath(path, true, []string{".csv", ".tsv"})
	if !res.Valid {
		return nil, fmt.Errorf("invalid input file: %s", strings.Join(res.Errors, "; "))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV file %s has no data rows", path)
	}

	header := rows[0]
	col := -1
	if column != "" {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), column) {
				col = i
				break
			}
		}
		if col < 0 {
			return nil, fmt.Errorf("column %q not found in CSV header", column)
		}
	} else {
		col = detectTechniqueColumn(header)
		if col < 0 {
			return nil, fmt.Errorf("could not auto-detect technique column; specify it explicitly")
		}
		p.logger.Debug("auto-detected technique column", zap.String("column", header[col]))
	}

	var ids []string
	for _, row := range rows[1:] {
		if col < len(row) {
			if id := strings.TrimSpace(row[col]); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no techniques found in CSV file %s", path)
	}

	p.logger.Info("extracted techniques from CSV",
		zap.String("file", path), zap.Int("count", len(ids)))
	return p.finish(ids, path)
}

// STIXBundle extracts technique identifiers from the attack-pattern objects
// of a STIX 2.x bundle file.
func (p *Parser) STIXBundle(path string) ([]string, error) {
	path, res := p.validator.FilePath(path, true, []string{".json"})
	if !res.Valid {
		return nil, fmt.Errorf("invalid input file: %s", strings.Join(res.Errors, "; "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading STIX bundle: %w", err)
	}

	var bundle struct {
		Type    string `json:"type"`
		Objects []struct {
			Type               string `json:"type"`
			ExternalReferences []struct {
				SourceName string `json:"source_name"`
				ExternalID string `json:"external_id"`
			} `json:"external_references"`
		} `json:"objects"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("invalid STIX bundle JSON: %w", err)
	}
	if bundle.Type != "bundle" {
		return nil, fmt.Errorf("invalid STIX bundle: missing type \"bundle\"")
	}
	if len(bundle.Objects) == 0 {
		return nil, fmt.Errorf("STIX bundle contains no objects")
	}

	var ids []string
	for _, obj := range bundle.Objects {
		if obj.Type != "attack-pattern" {
			continue
		}
		for _, ref := range obj.ExternalReferences {
			if ref.SourceName == "mitre-attack" && ref.ExternalID != "" {
				ids = append(ids, ref.ExternalID)
				break
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no techniques found in STIX bundle %s", path)
	}

	p.logger.Info("extracted techniques from STIX bundle",
		zap.String("file", path), zap.Int("count", len(ids)))
	return p.finish(ids, path)
}

// Text extracts technique identifiers from free text by pattern match,
// deduplicating while preserving order of first occurrence.
func (p *Parser) Text(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is empty")
	}

	matches := techniqueIDPattern.FindAllString(text, -1)
	seen := make(map[string]bool)
	var ids []string
	for _, m := range matches {
		id := strings.ToUpper(m)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no technique IDs found in text")
	}

	p.logger.Info("extracted techniques from text", zap.Int("count", len(ids)))
	return p.finish(ids, "text")
}

// TextFile extracts technique identifiers from a text file.
func (p *Parser) TextFile(path string) ([]string, error) {
	path, res := p.validator.FilePath(path, true, []string{".txt", ".md", ".log", ".report"})
	if !res.Valid {
		return nil, fmt.Errorf("invalid input file: %s", strings.Join(res.Errors, "; "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	return p.Text(string(data))
}

// File parses a file under the given format.
func (p *Parser) File(path string, format Format, csvColumn string) ([]string, error) {
	switch format {
	case FormatJSON:
		return p.JSONFile(path)
	case FormatCSV:
		return p.CSVFile(path, csvColumn)
	case FormatSTIX:
		return p.STIXBundle(path)
	case FormatText:
		return p.TextFile(path)
	default:
		return nil, fmt.Errorf("unsupported input format %s for file input", format)
	}
}

// finish runs the extracted identifiers through list validation and logs
// any warnings.
func (p *Parser) finish(ids []string, source string) ([]string, error) {
	valid, res := p.validator.TechniqueList(ids)
	for _, w := range res.Warnings {
		p.logger.Warn("input warning", zap.String("source", source), zap.String("warning", w))
	}
	if !res.Valid {
		return nil, fmt.Errorf("invalid techniques in %s: %s", source, strings.Join(res.Errors, "; "))
	}
	return valid, nil
}

func extractFromJSON(doc any) []string {
	var ids []string

	switch v := doc.(type) {
	case []any:
		for _, item := range v {
			if id := idFromItem(item); id != "" {
				ids = append(ids, id)
			}
		}
	case map[string]any:
		for _, field := range candidateListFields {
			items, found := v[field].([]any)
			if !found {
				continue
			}
			for _, item := range items {
				if id := idFromItem(item); id != "" {
					ids = append(ids, id)
				}
			}
			if len(ids) > 0 {
				break
			}
		}
	}
	return ids
}

func idFromItem(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		for _, field := range candidateIDFields {
			if s, found := v[field].(string); found && s != "" {
				return s
			}
		}
	}
	return ""
}

func detectTechniqueColumn(header []string) int {
	lower := make(map[string]int, len(header))
	for i, name := range header {
		lower[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, candidate := range candidateColumns {
		if i, found := lower[candidate]; found {
			return i
		}
	}
	return -1
}
