package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/observability"
	"github.com/helicon-ai/helicon/pkg/store"
	"github.com/helicon-ai/helicon/pkg/vectordb"
)

// maxFanOut caps item concurrency regardless of configuration.
const maxFanOut = 18

// Options adjusts one ingestion run.
type Options struct {
	Recursive  bool
	FromWeb    bool
	Tags       []string
	Collection string
	UserID     string
}

// Embedder is the embedding surface the pipeline needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the vector store surface the pipeline needs.
type VectorWriter interface {
	EnsureCollection(ctx context.Context, name string) error
	UpsertChunks(ctx context.Context, points []vectordb.Point, collection string) (int, error)
}

// Service runs the ingestion pipeline: enumerate, parse, chunk, embed,
// upsert, record.
type Service struct {
	cfg      config.IngestConfig
	chunker  *Chunker
	embedder Embedder
	vectors  VectorWriter
	records  store.Store
	log      *slog.Logger
	metrics  observability.Metrics

	docModel    *DocModelClient
	ocr         *OCREngine
	transcriber *Transcriber
	web         *WebFetcher

	defaultCollection string

	// parse is swapped in tests.
	parse func(ctx context.Context, item IngestionItem) ([]RawChunk, error)

	activeMu   sync.Mutex
	activeRuns int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics wires the metrics recorder.
func WithMetrics(m observability.Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRecordStore wires run persistence.
func WithRecordStore(st store.Store) ServiceOption {
	return func(s *Service) {
		if st != nil {
			s.records = st
		}
	}
}

// NewService builds the pipeline over an embedder and a vector store.
func NewService(cfg config.IngestConfig, embedder Embedder, vectors VectorWriter, defaultCollection string, log *slog.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:               cfg,
		chunker:           NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:          embedder,
		vectors:           vectors,
		records:           store.Noop{},
		log:               log,
		metrics:           observability.NoopMetrics{},
		ocr:               NewOCREngine(cfg.OCR, log),
		transcriber:       NewTranscriber(cfg.Whisper, log),
		web:               NewWebFetcher(log),
		defaultCollection: defaultCollection,
	}
	s.docModel = NewDocModelClient(cfg.DocModel, s.ocr, log)
	s.parse = s.parseItem

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestPath ingests a file, a directory, or a URL. Errors on individual
// items land in the report; only enumeration failure aborts the whole run.
func (s *Service) IngestPath(ctx context.Context, pathOrURL string, opts Options) (*IngestionReport, error) {
	started := time.Now()
	runID := uuid.NewString()

	s.acquireRun()
	defer s.releaseRun()

	items, cleanup, err := s.enumerate(ctx, pathOrURL, opts)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		report := &IngestionReport{Errors: []string{err.Error()}}
		s.record(ctx, runID, pathOrURL, opts, report, nil, started)
		return report, nil
	}

	results := make([]itemResult, len(items))
	concurrency := s.effectiveConcurrency()
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			results[i] = s.processItem(gctx, item, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		report := &IngestionReport{Errors: []string{err.Error()}}
		s.record(ctx, runID, pathOrURL, opts, report, nil, started)
		return report, err
	}

	report := &IngestionReport{}
	var chunks []DocChunk
	for _, r := range results {
		if r.err != nil {
			report.Errors = append(report.Errors, r.err.Error())
			continue
		}
		report.Files = append(report.Files, r.file)
		report.TotalFiles++
		report.TotalChunks += len(r.chunks)
		chunks = append(chunks, r.chunks...)
	}

	if len(chunks) > 0 {
		if err := s.embedAndUpsert(ctx, chunks, opts); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	s.metrics.RecordIngestion(ctx, time.Since(started), report.TotalFiles, report.TotalChunks, firstError(report.Errors))
	s.record(ctx, runID, pathOrURL, opts, report, results, started)

	s.log.Info("ingestion finished",
		"root", pathOrURL,
		"files", report.TotalFiles,
		"chunks", report.TotalChunks,
		"errors", len(report.Errors),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return report, nil
}

type itemResult struct {
	file   FileReport
	chunks []DocChunk
	err    error
}

func (s *Service) effectiveConcurrency() int {
	c := s.cfg.MaxConcurrency
	if n := runtime.NumCPU(); n < c {
		c = n
	}
	if c > maxFanOut {
		c = maxFanOut
	}
	if c < 1 {
		c = 1
	}
	return c
}

// enumerate resolves the input to concrete items. URLs go through the
// headless fetcher into a run-scoped temp dir.
func (s *Service) enumerate(ctx context.Context, pathOrURL string, opts Options) ([]IngestionItem, func(), error) {
	if isURL(pathOrURL) {
		tempDir, err := os.MkdirTemp(s.uploadRoot(), "web-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create fetch dir: %w", err)
		}
		cleanup := func() { os.RemoveAll(tempDir) }

		items, err := s.web.Fetch(ctx, pathOrURL, tempDir)
		if err != nil {
			return nil, cleanup, err
		}
		return items, cleanup, nil
	}

	info, err := os.Stat(pathOrURL)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", pathOrURL, err)
	}

	if !info.IsDir() {
		return []IngestionItem{s.fileItem(pathOrURL, info.Size(), opts)}, nil, nil
	}

	var items []IngestionItem
	if opts.Recursive {
		err = filepath.WalkDir(pathOrURL, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			items = append(items, s.fileItem(path, fi.Size(), opts))
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("walk %s: %w", pathOrURL, err)
		}
	} else {
		entries, err := os.ReadDir(pathOrURL)
		if err != nil {
			return nil, nil, fmt.Errorf("read dir %s: %w", pathOrURL, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			fi, err := entry.Info()
			if err != nil {
				continue
			}
			items = append(items, s.fileItem(filepath.Join(pathOrURL, entry.Name()), fi.Size(), opts))
		}
	}

	// Deterministic item order regardless of directory iteration.
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil, nil
}

func (s *Service) fileItem(path string, size int64, opts Options) IngestionItem {
	return IngestionItem{
		Path:    path,
		URI:     "file://" + filepath.ToSlash(path),
		MIME:    detectMIME(path),
		Size:    size,
		FromWeb: opts.FromWeb,
	}
}

func (s *Service) uploadRoot() string {
	if s.cfg.UploadRoot == "" {
		return os.TempDir()
	}
	os.MkdirAll(s.cfg.UploadRoot, 0o755)
	return s.cfg.UploadRoot
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// processItem runs one item through parsing and chunking.
func (s *Service) processItem(ctx context.Context, item IngestionItem, opts Options) itemResult {
	if item.Size > s.cfg.MaxFileSize {
		return itemResult{err: fmt.Errorf("%s: size %d exceeds limit %d", item.Path, item.Size, s.cfg.MaxFileSize)}
	}

	raw, err := s.parse(ctx, item)
	if err != nil {
		return itemResult{err: fmt.Errorf("%s: %v", item.Path, err)}
	}

	source := classifySource(item.MIME, item.FromWeb)
	base := ChunkBase{
		URI:            item.URI,
		MIME:           item.MIME,
		Source:         source,
		PathHash:       pathHash(item.Path, item.URI),
		OriginalFormat: strings.TrimPrefix(filepath.Ext(item.Path), "."),
		UserID:         opts.UserID,
		Tags:           opts.Tags,
	}
	if base.OriginalFormat == "" {
		base.OriginalFormat = item.MIME
	}

	var chunks []DocChunk
	if source == SourceAudio || source == SourceVideo {
		chunks = s.chunker.ChunkMedia(raw, base)
	} else {
		chunks = s.chunker.ChunkDocument(raw, base)
	}

	return itemResult{
		file: FileReport{
			Path:      item.Path,
			URI:       item.URI,
			MIME:      item.MIME,
			Chunks:    len(chunks),
			SizeBytes: item.Size,
		},
		chunks: chunks,
	}
}

// parseItem selects the extractor by MIME type.
func (s *Service) parseItem(ctx context.Context, item IngestionItem) ([]RawChunk, error) {
	switch {
	case strings.HasPrefix(item.MIME, "audio/"), strings.HasPrefix(item.MIME, "video/"):
		if !s.transcriber.Enabled() {
			return nil, fmt.Errorf("transcription engine not configured")
		}
		return s.transcriber.TranscribeFile(ctx, item.Path)

	case strings.HasPrefix(item.MIME, "image/"):
		if !s.ocr.Enabled() {
			return nil, fmt.Errorf("ocr engine not configured")
		}
		raw, err := os.ReadFile(item.Path)
		if err != nil {
			return nil, err
		}
		text, err := s.ocr.RecognizeBest(ctx, raw)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("no text recognized")
		}
		return []RawChunk{{Text: text, Page: 1}}, nil

	case item.MIME == "text/html":
		return htmlText(item.Path, item.URI)

	default:
		return s.parseDocument(ctx, item)
	}
}

// parseDocument tries the structured extractor, then format-specific
// fallbacks, then raw decode. Scanned PDFs (structured extraction produced
// no text) get one OCR attempt.
func (s *Service) parseDocument(ctx context.Context, item IngestionItem) ([]RawChunk, error) {
	var raw []RawChunk
	if s.docModel.Enabled() {
		var err error
		raw, err = s.docModel.Convert(ctx, item.Path)
		if err != nil {
			s.log.Warn("structured extraction failed, falling back", "path", item.Path, "error", err)
			raw = nil
		}
	}

	if isPDFLike(item.MIME) && !hasText(raw) && s.ocr.Enabled() {
		data, err := os.ReadFile(item.Path)
		if err == nil {
			if text, err := s.ocr.RecognizeBest(ctx, data); err == nil && strings.TrimSpace(text) != "" {
				return append(raw, RawChunk{Text: text, Page: 1}), nil
			}
		}
	}
	if hasText(raw) || hasArtifacts(raw) {
		return raw, nil
	}

	ext := strings.ToLower(filepath.Ext(item.Path))
	switch {
	case isPDFLike(item.MIME) || ext == ".pdf":
		return pdfText(item.Path)
	case spreadsheetMIMEs[item.MIME] || ext == ".xlsx" || ext == ".csv":
		return tabularText(ctx, item.Path)
	case ext == ".docx":
		return docxText(item.Path)
	default:
		return textDecode(item.Path)
	}
}

func hasText(raw []RawChunk) bool {
	for _, rc := range raw {
		if strings.TrimSpace(rc.Text) != "" {
			return true
		}
	}
	return false
}

func hasArtifacts(raw []RawChunk) bool {
	for _, rc := range raw {
		if len(rc.Tables) > 0 || len(rc.Images) > 0 || len(rc.Charts) > 0 {
			return true
		}
	}
	return false
}

// embedAndUpsert embeds all chunks and writes them in a single upsert.
func (s *Service) embedAndUpsert(ctx context.Context, chunks []DocChunk, opts Options) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	collection := opts.Collection
	if collection == "" {
		collection = s.defaultCollection
	}
	if err := s.vectors.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]vectordb.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectordb.Point{
			ID:      c.ID,
			Vector:  vectors[i],
			Payload: buildPayload(c, createdAt),
			Tags:    pointTags(c, opts),
		}
	}

	n, err := s.vectors.UpsertChunks(ctx, points, collection)
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	s.log.Debug("upserted points", "count", n, "collection", collection)
	return nil
}

// buildPayload merges chunk metadata with the point envelope and prunes it
// to the payload budget; the chunk text rides on top.
func buildPayload(c DocChunk, createdAt string) map[string]interface{} {
	merged := make(map[string]interface{}, len(c.Metadata)+8)
	for k, v := range c.Metadata {
		merged[k] = v
	}
	merged["id"] = c.ID
	merged["chunk_id"] = c.ChunkID
	merged["source"] = c.Source
	merged["uri"] = c.URI
	merged["mime"] = c.MIME
	merged["created_at"] = createdAt

	payload := prunePayload(merged)
	payload["text"] = c.Text
	return payload
}

// pointTags is the union of supplied tags, chunk tags, and the user tag.
func pointTags(c DocChunk, opts Options) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	for _, t := range opts.Tags {
		add(t)
	}
	if chunkTags, ok := c.Metadata["tags"].([]string); ok {
		for _, t := range chunkTags {
			add(t)
		}
	}
	if opts.UserID != "" {
		add(vectordb.UserTagPrefix + opts.UserID)
	}
	return tags
}

// record persists the run summary, best effort.
func (s *Service) record(ctx context.Context, runID, root string, opts Options, report *IngestionReport, results []itemResult, started time.Time) {
	status := "success"
	switch {
	case len(report.Errors) > 0 && report.TotalFiles == 0:
		status = "error"
	case len(report.Errors) > 0:
		status = "partial"
	}

	run := store.IngestionRun{
		ID:          runID,
		UserID:      opts.UserID,
		Root:        root,
		TotalFiles:  report.TotalFiles,
		TotalChunks: report.TotalChunks,
		Errors:      report.Errors,
		Status:      status,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	}

	var files []store.IngestionFile
	var docs []store.Document
	for _, r := range results {
		if r.err != nil {
			files = append(files, store.IngestionFile{RunID: runID, Error: r.err.Error()})
			continue
		}
		files = append(files, store.IngestionFile{
			RunID:     runID,
			Path:      r.file.Path,
			URI:       r.file.URI,
			MIME:      r.file.MIME,
			Chunks:    r.file.Chunks,
			SizeBytes: r.file.SizeBytes,
		})
		docs = append(docs, store.Document{
			UserID:     opts.UserID,
			PathHash:   pathHash(r.file.Path, r.file.URI),
			URI:        r.file.URI,
			MIME:       r.file.MIME,
			Chunks:     r.file.Chunks,
			Collection: coalesce(opts.Collection, s.defaultCollection),
			IngestedAt: time.Now().UTC(),
		})
	}

	if err := s.records.RecordIngestion(ctx, run, files, docs); err != nil {
		s.log.Warn("recording ingestion run failed", "run_id", runID, "error", err)
	}
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstError(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", errs[0])
}

// acquireRun tracks concurrent ingestions; the last one out releases the
// media engines' pooled resources.
func (s *Service) acquireRun() {
	s.activeMu.Lock()
	s.activeRuns++
	s.activeMu.Unlock()
}

func (s *Service) releaseRun() {
	s.activeMu.Lock()
	s.activeRuns--
	last := s.activeRuns == 0
	s.activeMu.Unlock()
	if last {
		s.transcriber.Release()
	}
}
