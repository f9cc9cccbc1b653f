package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/helicon-ai/helicon/pkg/httpclient"
)

// webFetchTimeout bounds one headless page load.
const webFetchTimeout = 60 * time.Second

// assetSrcRe finds embedded asset references in rendered HTML.
var assetSrcRe = regexp.MustCompile(`<(?:img|source|embed)[^>]+src=["']([^"']+)["']`)

// WebFetcher loads pages in a headless browser so script-rendered content
// is captured, and materializes the page plus its directly referenced
// assets into a run-scoped directory.
type WebFetcher struct {
	client *httpclient.Client
	log    *slog.Logger
}

// NewWebFetcher builds the fetcher.
func NewWebFetcher(log *slog.Logger) *WebFetcher {
	return &WebFetcher{
		client: httpclient.New(httpclient.WithMaxRetries(2)),
		log:    log,
	}
}

// Fetch renders the URL and writes the HTML and its embedded assets under
// destDir. Every returned item carries its origin URI and the web source
// override.
func (f *WebFetcher) Fetch(ctx context.Context, pageURL, destDir string) ([]IngestionItem, error) {
	html, err := f.renderPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	htmlPath := filepath.Join(destDir, "page.html")
	if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
		return nil, err
	}

	info, err := os.Stat(htmlPath)
	if err != nil {
		return nil, err
	}
	items := []IngestionItem{{
		Path:    htmlPath,
		URI:     pageURL,
		MIME:    "text/html",
		Size:    info.Size(),
		FromWeb: true,
	}}

	base, err := url.Parse(pageURL)
	if err != nil {
		return items, nil
	}

	for i, ref := range extractAssetRefs(html) {
		resolved := resolveRef(base, ref)
		if resolved == "" {
			continue
		}
		item, err := f.downloadAsset(ctx, resolved, destDir, i)
		if err != nil {
			f.log.Warn("skipping embedded asset", "url", resolved, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// renderPage drives a headless browser through the navigation and returns
// the rendered document.
func (f *WebFetcher) renderPage(ctx context.Context, pageURL string) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, webFetchTimeout)
	defer timeoutCancel()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func extractAssetRefs(html string) []string {
	var refs []string
	seen := map[string]bool{}
	for _, m := range assetSrcRe.FindAllStringSubmatch(html, -1) {
		ref := m[1]
		if strings.HasPrefix(ref, "data:") || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

func resolveRef(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func (f *WebFetcher) downloadAsset(ctx context.Context, assetURL, destDir string, index int) (IngestionItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return IngestionItem{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return IngestionItem{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return IngestionItem{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	name := path.Base(assetURL)
	if name == "" || name == "." || name == "/" {
		name = fmt.Sprintf("asset-%d", index)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("%03d-%s", index, filepath.Base(name)))

	out, err := os.Create(dest)
	if err != nil {
		return IngestionItem{}, err
	}
	defer out.Close()
	size, err := io.Copy(out, resp.Body)
	if err != nil {
		return IngestionItem{}, err
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i > 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = detectMIME(dest)
	}

	return IngestionItem{
		Path:    dest,
		URI:     assetURL,
		MIME:    mimeType,
		Size:    size,
		FromWeb: true,
	}, nil
}

// htmlText extracts readable article text from fetched HTML.
func htmlText(htmlPath, originURL string) ([]RawChunk, error) {
	raw, err := os.ReadFile(htmlPath)
	if err != nil {
		return nil, err
	}

	parsed, _ := url.Parse(originURL)
	article, err := readability.FromReader(strings.NewReader(string(raw)), parsed)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		// Readability found no article body; strip markup instead.
		return textFromMarkup(string(raw)), nil
	}

	var chunks []RawChunk
	if article.Title != "" {
		chunks = append(chunks, RawChunk{Text: article.Title, Page: 1})
	}
	for _, para := range strings.Split(article.TextContent, "\n") {
		if p := strings.TrimSpace(para); p != "" {
			chunks = append(chunks, RawChunk{Text: p, Page: 1})
		}
	}
	return chunks, nil
}

var htmlTagRe = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)

func textFromMarkup(html string) []RawChunk {
	text := htmlTagRe.ReplaceAllString(html, " ")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	return []RawChunk{{Text: text, Page: 1}}
}
