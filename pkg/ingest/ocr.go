package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/httpclient"
)

// OCREngine extracts text from images through the configured recognition
// service, trying preprocessing variants until one yields text.
type OCREngine struct {
	cfg    config.OCRConfig
	client *httpclient.Client
	log    *slog.Logger
}

// NewOCREngine builds the engine.
func NewOCREngine(cfg config.OCRConfig, log *slog.Logger) *OCREngine {
	return &OCREngine{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithMaxRetries(2)),
		log:    log,
	}
}

// Enabled reports whether the recognition service is configured.
func (e *OCREngine) Enabled() bool {
	return e != nil && e.cfg.URL != ""
}

// RecognizeBest runs recognition over preprocessing variants (original,
// autocontrast, sharpen, threshold); the first non-empty result wins.
func (e *OCREngine) RecognizeBest(ctx context.Context, imageBytes []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		// Not decodable locally; let the service try the raw bytes.
		return e.recognize(ctx, imageBytes)
	}

	gray := toGray(img)
	variants := []struct {
		name string
		img  image.Image
	}{
		{"original", img},
		{"autocontrast", autocontrast(gray)},
		{"sharpen", sharpen(gray)},
		{"threshold", threshold(gray)},
	}

	var lastErr error
	for _, v := range variants {
		encoded, err := encodePNG(v.img)
		if err != nil {
			lastErr = err
			continue
		}
		text, err := e.recognize(ctx, encoded)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) != "" {
			if v.name != "original" {
				e.log.Debug("ocr succeeded on preprocessed variant", "variant", v.name)
			}
			return text, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

// recognize posts one image to the service.
func (e *OCREngine) recognize(ctx context.Context, imageBytes []byte) (string, error) {
	url := strings.TrimRight(e.cfg.URL, "/") + "/v1/recognize"
	if len(e.cfg.Languages) > 0 {
		url += "?lang=" + strings.Join(e.cfg.Languages, "+")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(imageBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, snippet)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return payload.Text, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray
}

// autocontrast stretches the grayscale histogram to the full range.
func autocontrast(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	lo, hi := uint8(255), uint8(0)
	for i := range src.Pix {
		if src.Pix[i] < lo {
			lo = src.Pix[i]
		}
		if src.Pix[i] > hi {
			hi = src.Pix[i]
		}
	}
	if hi <= lo {
		return src
	}

	out := image.NewGray(bounds)
	scale := 255.0 / float64(hi-lo)
	for i := range src.Pix {
		out.Pix[i] = uint8(float64(src.Pix[i]-lo) * scale)
	}
	return out
}

// sharpen applies a 3x3 unsharp kernel.
func sharpen(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	kernel := [3][3]int{{0, -1, 0}, {-1, 5, -1}, {0, -1, 0}}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum := 0
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					px, py := clampInt(x+kx, bounds.Min.X, bounds.Max.X-1), clampInt(y+ky, bounds.Min.Y, bounds.Max.Y-1)
					sum += int(src.GrayAt(px, py).Y) * kernel[ky+1][kx+1]
				}
			}
			out.SetGray(x, y, color.Gray{Y: uint8(clampInt(sum, 0, 255))})
		}
	}
	return out
}

// threshold binarizes around the mean luminance.
func threshold(src *image.Gray) *image.Gray {
	total := 0
	for i := range src.Pix {
		total += int(src.Pix[i])
	}
	if len(src.Pix) == 0 {
		return src
	}
	mean := uint8(total / len(src.Pix))

	out := image.NewGray(src.Bounds())
	for i := range src.Pix {
		if src.Pix[i] >= mean {
			out.Pix[i] = 255
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
