package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/httpclient"
)

// transcriptSegment is one recognized span from the engine.
type transcriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcriber turns audio and video into timed paragraph chunks through a
// Whisper-style HTTP engine. Inputs are demuxed to mono 16 kHz PCM WAV with
// ffmpeg before upload.
type Transcriber struct {
	cfg        config.WhisperConfig
	httpClient *http.Client
	client     *httpclient.Client
	log        *slog.Logger
}

// NewTranscriber builds the transcriber.
func NewTranscriber(cfg config.WhisperConfig, log *slog.Logger) *Transcriber {
	hc := &http.Client{}
	return &Transcriber{
		cfg:        cfg,
		httpClient: hc,
		client:     httpclient.New(httpclient.WithHTTPClient(hc), httpclient.WithMaxRetries(1)),
		log:        log,
	}
}

// Enabled reports whether the transcription engine is configured.
func (t *Transcriber) Enabled() bool {
	return t != nil && t.cfg.URL != ""
}

// Release drops pooled connections to the engine. Called when the last
// active ingestion finishes.
func (t *Transcriber) Release() {
	if t != nil && t.httpClient != nil {
		t.httpClient.CloseIdleConnections()
	}
}

// TranscribeFile demuxes, transcribes, and groups the segments into
// paragraphs carrying start/end seconds.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string) ([]RawChunk, error) {
	wavPath, err := demuxToWAV(ctx, path)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	language, segments, err := t.transcribe(ctx, wavPath)
	if err != nil {
		return nil, err
	}
	return paragraphize(segments, language), nil
}

// demuxToWAV extracts the audio track as mono 16 kHz PCM WAV.
func demuxToWAV(ctx context.Context, path string) (string, error) {
	out, err := os.CreateTemp("", "helicon-audio-*.wav")
	if err != nil {
		return "", err
	}
	out.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", path,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		out.Name(),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("ffmpeg demux of %s: %w (%s)", filepath.Base(path), err, lastLine(stderr.String()))
	}
	return out.Name(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// transcribe uploads the WAV and returns the detected language with the
// recognized segments.
func (t *Transcriber) transcribe(ctx context.Context, wavPath string) (string, []transcriptSegment, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", nil, err
	}
	writer.WriteField("model", t.cfg.Model)
	writer.WriteField("compute_type", t.cfg.ComputeType)
	writer.WriteField("device", t.cfg.Device)
	if t.cfg.Language != "" {
		writer.WriteField("language", t.cfg.Language)
	}
	if err := writer.Close(); err != nil {
		return "", nil, err
	}

	url := strings.TrimRight(t.cfg.URL, "/") + "/v1/transcribe"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body.Bytes()))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, snippet)
	}

	var payload struct {
		Language string              `json:"language"`
		Segments []transcriptSegment `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return payload.Language, payload.Segments, nil
}

// paragraphize merges consecutive segments into paragraphs, breaking on
// terminal punctuation or embedded newlines.
func paragraphize(segments []transcriptSegment, language string) []RawChunk {
	var chunks []RawChunk
	var texts []string
	var start float64
	open := false

	flush := func(end float64) {
		if !open {
			return
		}
		text := strings.TrimSpace(strings.Join(texts, " "))
		if text != "" {
			chunks = append(chunks, RawChunk{
				Text:     text,
				Start:    start,
				End:      end,
				Language: language,
			})
		}
		texts = texts[:0]
		open = false
	}

	for _, seg := range segments {
		if !open {
			start = seg.Start
			open = true
		}
		texts = append(texts, strings.TrimSpace(seg.Text))
		if endsParagraph(seg.Text) {
			flush(seg.End)
		}
	}
	if open && len(segments) > 0 {
		flush(segments[len(segments)-1].End)
	}
	return chunks
}

func endsParagraph(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.Contains(text, "\n") {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return strings.HasSuffix(trimmed, "…")
}
