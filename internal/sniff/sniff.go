// Package sniff detects which vendor format an uploaded workbook matches.
// Sniffing is a pure function of the file and the format catalog; it carries
// no state, so it is parallel-safe and deterministic.
package sniff

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/xlsxio"
)

// Signal weights. Filename is the strongest signal in practice: vendors name
// their exports consistently even when they shuffle columns.
const (
	weightFilename = 0.4
	weightSheet    = 0.3
	weightHeaders  = 0.3
)

// headerScanRows bounds how deep into each sheet headers are searched.
const headerScanRows = 6

// DefaultMinConfidence is the threshold below which a candidate is dropped.
const DefaultMinConfidence = 0.5

var folder = cases.Fold()

// fold lowercases and normalizes a cell for comparison. Vendor files mix
// full-width characters, stray accents, and inconsistent casing.
func fold(s string) string {
	return folder.String(norm.NFKC.String(strings.TrimSpace(s)))
}

// FileMeta is the sniffable surface of a workbook.
type FileMeta struct {
	Filename   string
	SheetNames []string
	// HeaderCells holds the folded cells of the first few rows of every
	// sheet, flattened into one set.
	HeaderCells map[string]bool
}

// MetaFromWorkbook extracts the sniffable surface from a parsed workbook.
func MetaFromWorkbook(wb *xlsxio.Workbook) FileMeta {
	meta := FileMeta{
		Filename:    wb.Filename,
		SheetNames:  wb.SheetNames(),
		HeaderCells: make(map[string]bool),
	}
	for _, sheet := range wb.Sheets {
		limit := len(sheet.Rows)
		if limit > headerScanRows {
			limit = headerScanRows
		}
		for _, row := range sheet.Rows[:limit] {
			for _, cell := range row {
				if cell != "" {
					meta.HeaderCells[fold(cell)] = true
				}
			}
		}
	}
	return meta
}

// Sniff scores every catalog format against the file and returns candidates
// above minConfidence, ordered by confidence descending. Ties keep catalog
// declaration order. An empty result means "unknown vendor".
func Sniff(meta FileMeta, catalog *vendorspec.Catalog, minConfidence float64) []model.CandidateFormat {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	var candidates []model.CandidateFormat
	for _, f := range catalog.Formats() {
		score := score(meta, f)
		if score >= minConfidence {
			candidates = append(candidates, model.CandidateFormat{
				FormatID:   f.ID,
				Version:    f.Version,
				Confidence: score,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

func score(meta FileMeta, f *vendorspec.Format) float64 {
	var total float64

	if matchFilename(meta.Filename, f.Detect.FilenameTokens) {
		total += weightFilename
	}
	if matchSheet(meta.SheetNames, f.Detect.SheetNames) {
		total += weightSheet
	}
	total += weightHeaders * headerOverlap(meta.HeaderCells, f.Detect.HeaderKeywords)

	return total
}

func matchFilename(filename string, tokens []string) bool {
	name := fold(filename)
	for _, tok := range tokens {
		if strings.Contains(name, fold(tok)) {
			return true
		}
	}
	return false
}

func matchSheet(sheetNames, wanted []string) bool {
	for _, want := range wanted {
		for _, have := range sheetNames {
			if fold(have) == fold(want) {
				return true
			}
		}
	}
	return false
}

// headerOverlap returns the fraction of expected keywords found among the
// file's header cells (substring match, folded).
func headerOverlap(cells map[string]bool, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	var hits int
	for _, kw := range keywords {
		want := fold(kw)
		for cell := range cells {
			if strings.Contains(cell, want) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(keywords))
}
