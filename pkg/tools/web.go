package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

const (
	searchEndpoint = "https://html.duckduckgo.com/html/"
	webTimeout     = 15 * time.Second
	maxFetchBytes  = 1 << 20
	userAgent      = "deepagents/1.0"
)

var (
	resultLinkRe = regexp.MustCompile(`<a[^>]+class="result__a"[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	scriptRe     = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// WebSearchTool queries the DuckDuckGo HTML endpoint, which needs no API key.
type WebSearchTool struct {
	BaseTool
	client *http.Client
}

func NewWebSearchTool(client *http.Client) *WebSearchTool {
	if client == nil {
		client = &http.Client{Timeout: webTimeout}
	}
	return &WebSearchTool{
		BaseTool: NewBaseTool(
			"web_search",
			"Search the web and return result titles and links.",
			objectSchema([]string{"query"}, map[string]interface{}{
				"query": stringProp("Search query"),
			}),
		),
		client: client,
	}
}

func (t *WebSearchTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "query is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		searchEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeToolExecution, "failed to build search request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: search request failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return fmt.Sprintf("Error: failed to read search response: %v", err), nil
	}

	matches := resultLinkRe.FindAllStringSubmatch(string(body), 10)
	if len(matches) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, m := range matches {
		title := html.UnescapeString(tagRe.ReplaceAllString(m[2], ""))
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, strings.TrimSpace(title), m[1])
	}
	return Truncate(b.String(), WebOutputLimit), nil
}

// WebFetchTool downloads a page and returns its visible text.
type WebFetchTool struct {
	BaseTool
	client *http.Client
}

func NewWebFetchTool(client *http.Client) *WebFetchTool {
	if client == nil {
		client = &http.Client{Timeout: webTimeout}
	}
	return &WebFetchTool{
		BaseTool: NewBaseTool(
			"web_fetch",
			"Fetch a URL and return the page text with markup stripped.",
			objectSchema([]string{"url"}, map[string]interface{}{
				"url": stringProp("URL to fetch"),
			}),
		),
		client: client,
	}
}

func (t *WebFetchTool) Run(ctx context.Context, args map[string]interface{}, toolCtx *Context) (string, error) {
	target, ok := stringArg(args, "url")
	if !ok || target == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "url is required", nil)
	}
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "url must be http or https", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeToolExecution, "failed to build fetch request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: fetch returned status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return fmt.Sprintf("Error: failed to read response: %v", err), nil
	}

	return Truncate(stripMarkup(string(body)), WebOutputLimit), nil
}

func stripMarkup(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "\n")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return blankLinesRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}
