package ingest

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// pdfText is the plain-text fallback when structured extraction yields
// nothing for a PDF. One raw chunk per page.
func pdfText(path string) ([]RawChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	var chunks []RawChunk
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, RawChunk{Text: text, Page: pageNum})
		}
	}
	return chunks, nil
}

// spreadsheetMIMEs route to the tabular reader.
var spreadsheetMIMEs = map[string]bool{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-excel": true,
	"text/csv":                 true,
}

// tabularText reads spreadsheet sheets as table artifacts with a textual
// grid projection.
func tabularText(ctx context.Context, path string) ([]RawChunk, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var chunks []RawChunk
	for sheetIdx, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return chunks, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil || len(rows) == 0 {
			continue
		}

		chunks = append(chunks, RawChunk{
			Text: fmt.Sprintf("Sheet: %s\n%s", sheetName, serializeGrid(rows)),
			Page: sheetIdx + 1,
			Tables: []TableArtifact{{
				Grid:    rows,
				Page:    sheetIdx + 1,
				Caption: sheetName,
			}},
		})
	}
	return chunks, nil
}

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)

// docxText extracts the document body text of a Word file.
func docxText(path string) ([]RawChunk, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	// The library returns raw document XML; paragraph closes become
	// breaks, remaining markup is stripped.
	content = strings.ReplaceAll(content, "</w:p>", "\n\n")
	content = xmlTagRe.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	var chunks []RawChunk
	for _, para := range strings.Split(content, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			chunks = append(chunks, RawChunk{Text: p, Page: 1})
		}
	}
	return chunks, nil
}

// textDecode is the last-resort extractor: whole-file read with content
// sniffing, keeping only valid text.
func textDecode(path string) ([]RawChunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ReplaceAll(text, "\x00", "")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no textual content in %s", path)
	}
	return []RawChunk{{Text: text, Page: 1}}, nil
}
