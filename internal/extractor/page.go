package extractor

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"quizsolver/internal/domain"
)

// PageFacts is the deterministic pre-parse of a quiz page: everything that
// can be pulled out of the HTML without a model call. The extractor feeds
// these to the LLM and also uses them to override hallucination-prone
// fields in its reply.
type PageFacts struct {
	Text         string
	DecodedTexts []string
	FileURLs     []string
	Tables       []string
	SubmitURL    string
}

var (
	atobRe   = regexp.MustCompile(`atob\(['"]([A-Za-z0-9+/=]+)['"]\)`)
	submitRe = regexp.MustCompile(`(?i)(?:POST|submit)\b.{0,60}?(?:to|at)\s+(https?://[^\s'"<>]+)`)
	urlRe    = regexp.MustCompile(`https?://[^\s'"<>]+`)
)

var fileExtensions = []string{
	".opus", ".mp3", ".wav", ".m4a", ".ogg", ".flac",
	".pdf", ".csv", ".xlsx", ".json", ".txt", ".png", ".jpg", ".jpeg",
}

// ParsePage extracts the machine-readable facts from page content.
func ParsePage(page *domain.PageContent) (*PageFacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, err
	}

	facts := &PageFacts{}

	// Quiz pages hide instructions in atob("...") payloads.
	for _, m := range atobRe.FindAllStringSubmatch(page.HTML, -1) {
		if decoded, err := base64.StdEncoding.DecodeString(m[1]); err == nil {
			facts.DecodedTexts = append(facts.DecodedTexts, string(decoded))
		}
	}

	seen := make(map[string]bool)
	addFile := func(raw string) {
		abs := resolveURL(page.URL, raw)
		if abs != "" && !seen[abs] {
			seen[abs] = true
			facts.FileURLs = append(facts.FileURLs, abs)
		}
	}

	doc.Find("audio, video, source").Each(func(i int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			addFile(src)
		}
	})
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		lower := strings.ToLower(href)
		for _, ext := range fileExtensions {
			if strings.Contains(lower, ext) {
				addFile(href)
				break
			}
		}
	})

	doc.Find("table").Each(func(i int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			facts.Tables = append(facts.Tables, html)
		}
	})

	doc.Find("script, style").Remove()
	facts.Text = strings.TrimSpace(doc.Find("body").Text())
	if facts.Text == "" {
		facts.Text = page.Text
	}

	facts.SubmitURL = findSubmitURL(facts.Text, facts.DecodedTexts)
	return facts, nil
}

// findSubmitURL looks for a "POST to <url>" style instruction, then falls
// back to any URL that mentions submit or answer.
func findSubmitURL(text string, decoded []string) string {
	sources := append([]string{text}, decoded...)
	for _, s := range sources {
		if m := submitRe.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	for _, s := range sources {
		for _, u := range urlRe.FindAllString(s, -1) {
			lower := strings.ToLower(u)
			if strings.Contains(lower, "submit") || strings.Contains(lower, "/answer") {
				return u
			}
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
