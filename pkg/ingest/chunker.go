package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// chunkTokenRe splits text into word runs, single punctuation marks, and
// whitespace runs. Joining the tokens reproduces the text exactly, so
// consecutive windows with overlap removed reconstruct the original stream.
var chunkTokenRe = regexp.MustCompile(`\w+|[^\w\s]|\s+`)

// paragraphBreak separates raw chunks in the document-mode token stream.
const paragraphBreak = "\n\n"

// Chunker slides a token window of Size with Overlap over parser output.
type Chunker struct {
	size    int
	overlap int
}

// ChunkBase carries the per-document constants stamped onto every chunk.
type ChunkBase struct {
	URI            string
	MIME           string
	Source         string
	PathHash       string
	OriginalFormat string
	UserID         string
	Tags           []string
}

// NewChunker builds a chunker. Overlap must be smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if size < 1 {
		size = 1
	}
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

func tokenizeChunk(text string) []string {
	return chunkTokenRe.FindAllString(text, -1)
}

// windows yields [start,end) token ranges of the sliding window.
func (c *Chunker) windows(n int) [][2]int {
	if n == 0 {
		return nil
	}
	step := c.size - c.overlap
	var out [][2]int
	for start := 0; ; start += step {
		end := start + c.size
		if end >= n {
			out = append(out, [2]int{start, n})
			return out
		}
		out = append(out, [2]int{start, end})
	}
}

// ChunkMedia windows each transcribed paragraph separately, interpolating
// proportional start/end times from the paragraph range.
func (c *Chunker) ChunkMedia(raw []RawChunk, base ChunkBase) []DocChunk {
	var chunks []DocChunk
	chunkID := 0

	for _, p := range raw {
		tokens := tokenizeChunk(p.Text)
		if len(tokens) == 0 {
			continue
		}

		duration := p.End - p.Start
		for si, w := range c.windows(len(tokens)) {
			text := strings.Join(tokens[w[0]:w[1]], "")
			startSec := p.Start
			endSec := p.End
			if duration > 0 {
				startSec = p.Start + duration*float64(w[0])/float64(len(tokens))
				endSec = p.Start + duration*float64(w[1])/float64(len(tokens))
			}

			metadata := map[string]interface{}{
				"path_hash":       base.PathHash,
				"original_format": base.OriginalFormat,
				"output_format":   "markdown",
				"chunk_id":        chunkID,
				"segment":         si,
				"token_range":     []int{w[0], w[1]},
				"start":           startSec,
				"end":             endSec,
				"start_time":      formatTimestamp(startSec),
				"end_time":        formatTimestamp(endSec),
			}
			if p.Language != "" {
				metadata["language"] = p.Language
			}
			if p.Speaker != "" {
				metadata["speaker"] = p.Speaker
			}
			stampBase(metadata, base)

			chunks = append(chunks, DocChunk{
				ID:       chunkKey(base.PathHash, chunkID),
				ChunkID:  chunkID,
				Text:     text,
				URI:      base.URI,
				MIME:     base.MIME,
				Source:   base.Source,
				Metadata: metadata,
			})
			chunkID++
		}
	}
	return chunks
}

// ChunkDocument concatenates raw chunks into one token stream with
// paragraph breaks and a parallel provenance array, then windows it. Each
// window records per-contributor segments and the deduplicated artifacts of
// its contributors.
func (c *Chunker) ChunkDocument(raw []RawChunk, base ChunkBase) []DocChunk {
	var tokens []string
	var sources []int

	for i, rc := range raw {
		ts := tokenizeChunk(rc.Text)
		if len(ts) == 0 {
			continue
		}
		if len(tokens) > 0 {
			tokens = append(tokens, paragraphBreak)
			sources = append(sources, sources[len(sources)-1])
		}
		for range ts {
			sources = append(sources, i)
		}
		tokens = append(tokens, ts...)
	}
	if len(tokens) == 0 {
		return nil
	}

	var chunks []DocChunk
	for chunkID, w := range c.windows(len(tokens)) {
		text := strings.Join(tokens[w[0]:w[1]], "")

		// Contributors in stream order, with their overlap ranges.
		var contributors []int
		seen := map[int]bool{}
		for pos := w[0]; pos < w[1]; pos++ {
			if src := sources[pos]; !seen[src] {
				seen[src] = true
				contributors = append(contributors, src)
			}
		}

		var segments []map[string]interface{}
		pageSet := map[int]bool{}
		for _, src := range contributors {
			first, last := -1, -1
			for pos := w[0]; pos < w[1]; pos++ {
				if sources[pos] == src {
					if first < 0 {
						first = pos
					}
					last = pos
				}
			}
			segments = append(segments, map[string]interface{}{
				"chunk_index": src,
				"page":        raw[src].Page,
				"token_start": first,
				"token_end":   last + 1,
			})
			pageSet[raw[src].Page] = true
		}

		pages := make([]int, 0, len(pageSet))
		for p := range pageSet {
			pages = append(pages, p)
		}
		sort.Ints(pages)

		tables, images, charts := collectArtifacts(raw, contributors)
		format := outputFormat(text, tables, charts)

		var rendered string
		if format == "json" {
			rendered = renderJSON(pages, tables, images, charts)
		} else {
			rendered = renderMarkdown(text, tables, images, charts)
		}

		metadata := map[string]interface{}{
			"path_hash":       base.PathHash,
			"original_format": base.OriginalFormat,
			"output_format":   format,
			"chunk_id":        chunkID,
			"pages":           pages,
			"segments":        segments,
		}
		if len(tables) > 0 {
			metadata["tables"] = tableMaps(tables)
		}
		if len(images) > 0 {
			metadata["images"] = imageMaps(images)
		}
		if len(charts) > 0 {
			metadata["charts"] = chartMaps(charts)
		}
		stampBase(metadata, base)

		chunks = append(chunks, DocChunk{
			ID:       chunkKey(base.PathHash, chunkID),
			ChunkID:  chunkID,
			Text:     rendered,
			URI:      base.URI,
			MIME:     base.MIME,
			Source:   base.Source,
			Metadata: metadata,
		})
	}
	return chunks
}

func stampBase(metadata map[string]interface{}, base ChunkBase) {
	if base.UserID != "" {
		metadata["user_id"] = base.UserID
	}
	if len(base.Tags) > 0 {
		metadata["tags"] = append([]string(nil), base.Tags...)
	}
}

func chunkKey(hash string, chunkID int) string {
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return fmt.Sprintf("%s-%04d", hash, chunkID)
}

// chartKeywords classify unlabeled figures as charts.
var chartKeywords = []string{"chart", "graph", "plot", "diagram"}

func isChart(c ChartArtifact) bool {
	if c.ID != "" {
		return true
	}
	probe := strings.ToLower(c.Label + " " + c.Caption + " " + c.Text)
	for _, kw := range chartKeywords {
		if strings.Contains(probe, kw) {
			return true
		}
	}
	return false
}

// collectArtifacts gathers the contributors' artifacts, deduplicated:
// tables by serialized grid and page, images by hash (or URI) and page,
// charts by id (or label and page).
func collectArtifacts(raw []RawChunk, contributors []int) ([]TableArtifact, []ImageArtifact, []ChartArtifact) {
	var tables []TableArtifact
	var images []ImageArtifact
	var charts []ChartArtifact
	tableSeen := map[string]bool{}
	imageSeen := map[string]bool{}
	chartSeen := map[string]bool{}

	for _, src := range contributors {
		rc := raw[src]
		for _, t := range rc.Tables {
			key := fmt.Sprintf("%s|%d", serializeGrid(t.Grid), t.Page)
			if !tableSeen[key] {
				tableSeen[key] = true
				tables = append(tables, t)
			}
		}
		for _, img := range rc.Images {
			key := img.Hash
			if key == "" {
				key = img.URI
			}
			key = fmt.Sprintf("%s|%d", key, img.Page)
			if !imageSeen[key] {
				imageSeen[key] = true
				images = append(images, img)
			}
		}
		for _, ch := range rc.Charts {
			if !isChart(ch) {
				continue
			}
			key := ch.ID
			if key == "" {
				key = fmt.Sprintf("%s|%d", ch.Label, ch.Page)
			}
			if !chartSeen[key] {
				chartSeen[key] = true
				charts = append(charts, ch)
			}
		}
	}
	return tables, images, charts
}

// outputFormat picks the rendering: textual windows render as markdown;
// artifact-only windows with tabular or chart data render as json.
func outputFormat(text string, tables []TableArtifact, charts []ChartArtifact) string {
	if strings.TrimSpace(text) != "" {
		return "markdown"
	}
	if len(tables) > 0 || len(charts) > 0 {
		return "json"
	}
	return "markdown"
}

func serializeGrid(grid [][]string) string {
	rows := make([]string, len(grid))
	for i, row := range grid {
		rows[i] = strings.Join(row, "\t")
	}
	return strings.Join(rows, "\n")
}

// formatTimestamp renders seconds as HH:MM:SS.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
