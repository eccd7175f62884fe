package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// 这些标签里的内容不算正文
const noiseSelector = "script, style, noscript, nav, header, footer, iframe, svg"

// ParseHTML 从 HTML 中提取标题和正文
func ParseHTML(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("parse HTML: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelector).Remove()

	// 优先 main/article，没有就用整个 body
	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var lines []string
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote, dt, dd").Each(func(i int, s *goquery.Selection) {
		// 嵌套块只取最外层，避免重复
		if s.ParentsFiltered("p, li, td, th, pre, blockquote, dd").Length() > 0 {
			return
		}
		if line := collapseSpaces(s.Text()); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		if line := collapseSpaces(root.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	return title, strings.Join(lines, "\n\n"), nil
}

// WebLoader 抓取网页并提取正文
type WebLoader struct {
	client *http.Client
}

func NewWebLoader(timeout time.Duration) *WebLoader {
	return &WebLoader{client: &http.Client{Timeout: timeout}}
}

func (l *WebLoader) Load(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "ragbot-indexer/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	title, text, err := ParseHTML(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("load %s: %w", url, err)
	}
	return Document{Source: url, Title: title, Content: text}, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
