package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"quizsolver/internal/domain"
	"quizsolver/internal/proxy"
)

// Fetcher retrieves quiz pages. It tries a plain HTTP GET first and only
// falls back to a headless browser when the static document cannot expose
// the question without running its scripts. Outbound identity (user agent,
// optional proxy) comes from the rotation on every request.
type Fetcher struct {
	httpClient *http.Client
	rotation   *proxy.Rotation
	timeout    time.Duration
	logger     *zap.Logger
	ctxPool    sync.Pool
}

func New(timeout time.Duration, rotation *proxy.Rotation, logger *zap.Logger) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: func(*http.Request) (*url.URL, error) {
					if p := rotation.ProxyURL(); p != "" {
						return url.Parse(p)
					}
					return nil, nil
				},
			},
		},
		rotation: rotation,
		timeout:  timeout,
		logger:   logger,
	}
	f.ctxPool.New = func() interface{} {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", ""),
			chromedp.Flag("disable-dev-shm-usage", ""),
			chromedp.UserAgent(rotation.UserAgent()),
		)
		if p := rotation.ProxyURL(); p != "" {
			opts = append(opts, chromedp.ProxyServer(p))
		}
		allocCtx, _ := chromedp.NewExecAllocator(context.Background(), opts...)
		return allocCtx
	}
	return f
}

// Fetch retrieves the content behind url. The fetch timeout is bounded by
// both the configured limit and whatever deadline ctx already carries, so
// it can never outlive the attempt budget.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*domain.PageContent, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	page, err := f.fetchStatic(ctx, url)
	if err != nil {
		return nil, err
	}
	if !RequiresRendering(page.HTML) {
		return page, nil
	}

	f.logger.Info("page requires rendering, switching to browser fetch", zap.String("url", url))
	return f.fetchRendered(ctx, url)
}

func (f *Fetcher) fetchStatic(ctx context.Context, url string) (*domain.PageContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Fatal(domain.KindFetch, err)
	}
	req.Header.Set("User-Agent", f.rotation.UserAgent())
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, domain.Retryable(domain.KindFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		// Client errors other than throttling will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, domain.Fatal(domain.KindFetch, err)
		}
		return nil, domain.Retryable(domain.KindFetch, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Retryable(domain.KindFetch, err)
	}

	html := string(body)
	return &domain.PageContent{
		URL:  url,
		HTML: html,
		Text: visibleText(html),
	}, nil
}

func (f *Fetcher) fetchRendered(ctx context.Context, url string) (*domain.PageContent, error) {
	allocCtx := f.ctxPool.Get().(context.Context)
	defer f.ctxPool.Put(allocCtx)

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	// Inherit the fetch deadline on the browser context.
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithDeadline(taskCtx, deadline)
		defer cancel()
	}

	var html, text string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(time.Second),
		chromedp.OuterHTML("html", &html),
		chromedp.Evaluate(`document.body.innerText`, &text),
	)
	if err != nil {
		return nil, domain.Retryable(domain.KindFetch, fmt.Errorf("browser fetch of %s: %w", url, err))
	}

	return &domain.PageContent{
		URL:      url,
		HTML:     html,
		Text:     strings.TrimSpace(text),
		Rendered: true,
	}, nil
}

// RequiresRendering decides whether the static document is enough. Pages
// that hide the question behind scripts show up as a near-empty body with
// script tags, or as an explicit loading placeholder.
func RequiresRendering(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}
	if doc.Find(".loading, .spinner, #loading, [data-loading]").Length() > 0 {
		return true
	}
	scripts := doc.Find("script").Length()
	doc.Find("script, style").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	return scripts > 0 && len(text) < 80
}

func visibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Find("body").Text())
}
