// Package ingest turns heterogeneous inputs (PDF, office documents, images,
// audio, video, web pages) into token-bounded chunks with structural
// metadata, embeds them, and upserts them into the vector store with
// per-user access tags.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Source classifies where an item came from.
const (
	SourceFile  = "file"
	SourceWeb   = "web"
	SourceAudio = "audio"
	SourceVideo = "video"
	SourceImage = "image"
)

// DocChunk is one embeddable unit of an ingested document.
type DocChunk struct {
	ID        string
	ChunkID   int
	Text      string
	URI       string
	MIME      string
	Source    string
	Metadata  map[string]interface{}
	Embedding []float32
}

// IngestionItem is one enumerated input.
type IngestionItem struct {
	Path string
	URI  string
	MIME string
	Size int64

	// FromWeb forces the web source classification for fetched assets.
	FromWeb bool
}

// FileReport is the per-file entry of an IngestionReport.
type FileReport struct {
	Path      string `json:"path"`
	URI       string `json:"uri"`
	MIME      string `json:"mime"`
	Chunks    int    `json:"chunks"`
	SizeBytes int64  `json:"size_bytes"`
}

// IngestionReport summarizes one run.
type IngestionReport struct {
	TotalFiles  int          `json:"total_files"`
	TotalChunks int          `json:"total_chunks"`
	Files       []FileReport `json:"files"`
	Errors      []string     `json:"errors"`
}

// TableArtifact is a table embedded in a document.
type TableArtifact struct {
	Grid    [][]string
	Page    int
	Caption string
}

// ImageArtifact is an image embedded in a document.
type ImageArtifact struct {
	URI     string
	Hash    string
	Page    int
	Caption string
	Width   int
	Height  int
	OCRText string
}

// ChartArtifact is a chart or figure with associated data.
type ChartArtifact struct {
	ID      string
	Label   string
	Caption string
	Text    string
	Page    int
	Data    map[string]interface{}
}

// RawChunk is a parser's finest-granularity output before windowing.
// Documents carry Page and artifacts; media carries timing and language.
type RawChunk struct {
	Text string
	Page int

	// Media timing in seconds.
	Start, End float64
	Language   string
	Speaker    string

	Tables []TableArtifact
	Images []ImageArtifact
	Charts []ChartArtifact
}

// classifySource maps a MIME type to a source class. fromWeb wins.
func classifySource(mimeType string, fromWeb bool) string {
	if fromWeb {
		return SourceWeb
	}
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return SourceAudio
	case strings.HasPrefix(mimeType, "video/"):
		return SourceVideo
	case strings.HasPrefix(mimeType, "image/"):
		return SourceImage
	case mimeType == "text/html":
		return SourceWeb
	default:
		return SourceFile
	}
}

// detectMIME resolves a file's MIME type by extension, sniffing content
// when the extension is unknown.
func detectMIME(path string) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if i := strings.Index(byExt, ";"); i > 0 {
			byExt = byExt[:i]
		}
		return byExt
	}

	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	sniffed := http.DetectContentType(head[:n])
	if i := strings.Index(sniffed, ";"); i > 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// pathHash is the stable per-document identity: SHA-256 of the origin URI
// when present, else of the local path.
func pathHash(path, uri string) string {
	src := uri
	if src == "" {
		src = path
	}
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// isPDFLike reports MIME types whose structured extraction can silently
// yield nothing on scanned documents.
func isPDFLike(mimeType string) bool {
	return mimeType == "application/pdf" || mimeType == "application/x-pdf"
}
