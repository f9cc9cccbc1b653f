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
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/httpclient"
)

// docModelTextTypes are item types whose textual projection feeds the token
// stream directly.
var docModelTextTypes = map[string]bool{
	"text":           true,
	"title":          true,
	"section_header": true,
	"paragraph":      true,
	"list_item":      true,
	"caption":        true,
	"footnote":       true,
	"code":           true,
	"formula":        true,
}

// docModelItem is one element of the structured extraction stream. The
// service returns loosely-typed maps; mapstructure narrows them.
type docModelItem struct {
	Type       string                 `mapstructure:"type"`
	Text       string                 `mapstructure:"text"`
	Page       int                    `mapstructure:"page"`
	Attributes map[string]interface{} `mapstructure:"attributes"`
	Grid       [][]string             `mapstructure:"grid"`
	Caption    string                 `mapstructure:"caption"`
	Image      *docModelImage         `mapstructure:"image"`
	Data       map[string]interface{} `mapstructure:"data"`
	ID         string                 `mapstructure:"id"`
	Label      string                 `mapstructure:"label"`
}

type docModelImage struct {
	URI    string `mapstructure:"uri"`
	Hash   string `mapstructure:"hash"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Data   []byte `mapstructure:"data"`
}

// DocModelClient converts documents through the structured extraction
// service, producing the item iterator of text, headers, tables, pictures
// and lists.
type DocModelClient struct {
	cfg    config.DocModelConfig
	client *httpclient.Client
	ocr    *OCREngine
	log    *slog.Logger
}

// NewDocModelClient builds the client. ocr may be nil; picture items then
// skip text recognition.
func NewDocModelClient(cfg config.DocModelConfig, ocr *OCREngine, log *slog.Logger) *DocModelClient {
	return &DocModelClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(2),
		),
		ocr: ocr,
		log: log,
	}
}

// Enabled reports whether the extraction service is configured.
func (c *DocModelClient) Enabled() bool {
	return c != nil && c.cfg.URL != ""
}

// Convert uploads the file and maps the returned items to raw chunks.
func (c *DocModelClient) Convert(ctx context.Context, path string) ([]RawChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.cfg.URL, "/") + "/v1/convert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document model request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("document model returned %d: %s", resp.StatusCode, snippet)
	}

	var payload struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode document model response: %w", err)
	}

	return c.itemsToChunks(ctx, payload.Items), nil
}

func (c *DocModelClient) itemsToChunks(ctx context.Context, items []map[string]interface{}) []RawChunk {
	var chunks []RawChunk
	for _, rawItem := range items {
		var item docModelItem
		if err := mapstructure.WeakDecode(rawItem, &item); err != nil {
			c.log.Warn("skipping undecodable document item", "error", err)
			continue
		}

		switch {
		case docModelTextTypes[item.Type]:
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			chunks = append(chunks, RawChunk{Text: item.Text, Page: item.Page})

		case item.Type == "table":
			chunks = append(chunks, RawChunk{
				Text: serializeGrid(item.Grid),
				Page: item.Page,
				Tables: []TableArtifact{{
					Grid:    item.Grid,
					Page:    item.Page,
					Caption: item.Caption,
				}},
			})

		case item.Type == "picture":
			chunks = append(chunks, c.pictureChunk(ctx, item))

		case item.Type == "chart":
			chunks = append(chunks, RawChunk{
				Text: item.Text,
				Page: item.Page,
				Charts: []ChartArtifact{{
					ID:      item.ID,
					Label:   item.Label,
					Caption: item.Caption,
					Text:    item.Text,
					Page:    item.Page,
					Data:    item.Data,
				}},
			})

		default:
			// Unknown types keep their text projection if any.
			if strings.TrimSpace(item.Text) != "" {
				chunks = append(chunks, RawChunk{Text: item.Text, Page: item.Page})
			}
		}
	}
	return chunks
}

// pictureChunk captures caption, hash, dimensions and reference of an
// embedded image, attempting OCR on the image bytes when available.
func (c *DocModelClient) pictureChunk(ctx context.Context, item docModelItem) RawChunk {
	artifact := ImageArtifact{Page: item.Page, Caption: item.Caption}
	if item.Image != nil {
		artifact.URI = item.Image.URI
		artifact.Hash = item.Image.Hash
		artifact.Width = item.Image.Width
		artifact.Height = item.Image.Height

		if c.ocr.Enabled() && len(item.Image.Data) > 0 {
			text, err := c.ocr.RecognizeBest(ctx, item.Image.Data)
			if err != nil {
				c.log.Debug("picture ocr failed", "page", item.Page, "error", err)
			} else {
				artifact.OCRText = text
			}
		}
	}

	// The caption (or OCR text) is the picture's token-stream projection.
	text := item.Caption
	if text == "" {
		text = artifact.OCRText
	}
	return RawChunk{Text: text, Page: item.Page, Images: []ImageArtifact{artifact}}
}
