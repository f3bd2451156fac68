// Package docload implements llm.FileLoader for the local document roots
// the preload pipeline ingests: plain text/markdown/CSV read verbatim,
// PDF text extracted page by page, and XLSX/XLS sheets flattened to a
// pipe-delimited table per sheet.
package docload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Loader dispatches on file extension to produce the plain-text form the
// chunker and section index operate on.
type Loader struct{}

func New() *Loader { return &Loader{} }

// Load reads path and returns its text content, applying format-specific
// extraction for pdf/xlsx/xls and reading everything else verbatim.
func (l *Loader) Load(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".xlsx", ".xls":
		return loadXLSX(path)
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("docload: read %s: %w", path, err)
		}
		return string(raw), nil
	}
}

func loadPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("docload: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "## Page %d\n\n%s\n\n", i, text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("docload: no extractable text in %s", path)
	}
	return sb.String(), nil
}

func loadXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("docload: open xlsx %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", sheet)
		for _, row := range rows {
			sb.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("docload: no sheets with data in %s", path)
	}
	return sb.String(), nil
}
