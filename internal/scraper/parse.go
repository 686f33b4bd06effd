package scraper

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/model"
)

const (
	listRowSelector    = "#profile-lists-container a.Box-row"
	listNameSelector   = "h3"
	listDescSelector   = "span.Truncate-text"
	listCountSelector  = "div.color-fg-muted"
	memberLinkSelector = "#user-list-repositories h3 a"
	nextPageSelector   = "a.next_page, a[rel=next]"
)

var countPattern = regexp.MustCompile(`\d[\d,]*`)

// ListPage is what one stars or list page yields.
type ListPage struct {
	Lists     []model.ListMeta
	RepoLinks []string
	NextPage  string
}

// ParseListPage extracts list rows, member repository links and the next-page link from
// a page. Links are resolved against pageURL; repository links keep their path form.
func ParseListPage(body []byte, pageURL string) (ListPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ListPage{}, &custom_errors.DecodeError{What: "list page", Err: err}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ListPage{}, &custom_errors.DecodeError{What: "list page URL", Err: err}
	}

	var page ListPage
	doc.Find(listRowSelector).Each(func(_ int, row *goquery.Selection) {
		href, _ := row.Attr("href")
		countText := squash(row.Find(listCountSelector).First().Text())
		count, _ := ParseCount(countText)
		page.Lists = append(page.Lists, model.ListMeta{
			Name:          squash(row.Find(listNameSelector).First().Text()),
			Description:   squash(row.Find(listDescSelector).First().Text()),
			URL:           resolve(base, href),
			CountText:     countText,
			DeclaredCount: count,
		})
	})

	doc.Find(memberLinkSelector).Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			page.RepoLinks = append(page.RepoLinks, strings.TrimSpace(href))
		}
	})

	if href, ok := doc.Find(nextPageSelector).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		page.NextPage = resolve(base, href)
	}
	return page, nil
}

// ParseCount returns the first integer in text such as "19 repositories".
// ok is false when text holds no number.
func ParseCount(text string) (int, bool) {
	m := countPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// squash trims text and collapses internal whitespace runs.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
