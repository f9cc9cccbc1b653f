package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// renderMarkdown appends artifact sections to the window text: tables as
// markdown tables, images as links with details in block quotes, charts as
// fenced JSON.
func renderMarkdown(text string, tables []TableArtifact, images []ImageArtifact, charts []ChartArtifact) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))

	if len(tables) > 0 {
		b.WriteString("\n\n## Embedded Tables\n")
		for _, t := range tables {
			if t.Caption != "" {
				fmt.Fprintf(&b, "\n**%s**\n", t.Caption)
			}
			b.WriteString("\n")
			b.WriteString(markdownTable(t.Grid))
		}
	}

	if len(images) > 0 {
		b.WriteString("\n\n## Embedded Images\n")
		for _, img := range images {
			caption := img.Caption
			if caption == "" {
				caption = "image"
			}
			fmt.Fprintf(&b, "\n![%s](%s)\n", caption, img.URI)
			var details []string
			if img.Hash != "" {
				details = append(details, "hash: "+img.Hash)
			}
			if img.Width > 0 && img.Height > 0 {
				details = append(details, fmt.Sprintf("dimensions: %dx%d", img.Width, img.Height))
			}
			if img.OCRText != "" {
				details = append(details, "ocr: "+img.OCRText)
			}
			for _, d := range details {
				fmt.Fprintf(&b, "> %s\n", d)
			}
		}
	}

	if len(charts) > 0 {
		b.WriteString("\n\n## Embedded Charts\n")
		for _, ch := range charts {
			label := ch.Label
			if label == "" {
				label = ch.ID
			}
			if label != "" {
				fmt.Fprintf(&b, "\n**%s**\n", label)
			}
			if len(ch.Data) > 0 {
				raw, err := json.MarshalIndent(ch.Data, "", "  ")
				if err == nil {
					fmt.Fprintf(&b, "\n```json\n%s\n```\n", raw)
				}
			} else if ch.Text != "" {
				fmt.Fprintf(&b, "\n%s\n", ch.Text)
			}
		}
	}

	return b.String()
}

// markdownTable renders a grid with the first row as header.
func markdownTable(grid [][]string) string {
	if len(grid) == 0 {
		return ""
	}

	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}

	row := func(cells []string) string {
		padded := make([]string, width)
		for i := 0; i < width; i++ {
			if i < len(cells) {
				padded[i] = strings.ReplaceAll(cells[i], "|", "\\|")
			}
		}
		return "| " + strings.Join(padded, " | ") + " |\n"
	}

	var b strings.Builder
	b.WriteString(row(grid[0]))
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
	for _, r := range grid[1:] {
		b.WriteString(row(r))
	}
	return b.String()
}

// renderJSON emits the artifact-only window structure.
func renderJSON(pages []int, tables []TableArtifact, images []ImageArtifact, charts []ChartArtifact) string {
	doc := map[string]interface{}{"pages": pages}
	if len(tables) > 0 {
		doc["tables"] = tableMaps(tables)
	}
	if len(charts) > 0 {
		doc["charts"] = chartMaps(charts)
	}
	if len(images) > 0 {
		doc["images"] = imageMaps(images)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(raw)
}

func tableMaps(tables []TableArtifact) []map[string]interface{} {
	out := make([]map[string]interface{}, len(tables))
	for i, t := range tables {
		out[i] = map[string]interface{}{
			"grid": t.Grid,
			"page": t.Page,
		}
		if t.Caption != "" {
			out[i]["caption"] = t.Caption
		}
	}
	return out
}

func imageMaps(images []ImageArtifact) []map[string]interface{} {
	out := make([]map[string]interface{}, len(images))
	for i, img := range images {
		m := map[string]interface{}{
			"uri":  img.URI,
			"page": img.Page,
		}
		if img.Hash != "" {
			m["hash"] = img.Hash
		}
		if img.Caption != "" {
			m["caption"] = img.Caption
		}
		if img.Width > 0 {
			m["width"] = img.Width
			m["height"] = img.Height
		}
		if img.OCRText != "" {
			m["ocr_text"] = img.OCRText
		}
		out[i] = m
	}
	return out
}

func chartMaps(charts []ChartArtifact) []map[string]interface{} {
	out := make([]map[string]interface{}, len(charts))
	for i, ch := range charts {
		m := map[string]interface{}{"page": ch.Page}
		if ch.ID != "" {
			m["id"] = ch.ID
		}
		if ch.Label != "" {
			m["label"] = ch.Label
		}
		if ch.Caption != "" {
			m["caption"] = ch.Caption
		}
		if ch.Text != "" {
			m["text"] = ch.Text
		}
		if len(ch.Data) > 0 {
			m["data"] = ch.Data
		}
		out[i] = m
	}
	return out
}
