// Package gamesdb extracts listing and detail data from thegamesdb.net pages.
package gamesdb

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// DefaultBaseURL resolves relative links when a payload carries no URL.
const DefaultBaseURL = "https://thegamesdb.net/"

// Detail field names, in output order.
const (
	FieldTitle       = "Title"
	FieldPlatform    = "Platform"
	FieldPlayers     = "Players"
	FieldDeveloper   = "Developer"
	FieldPublisher   = "Publisher"
	FieldGenre       = "Genre"
	FieldReleaseDate = "ReleaseDate"
	FieldOverview    = "Overview"
)

var columns = []string{
	crawler.FieldID,
	FieldTitle,
	FieldPlatform,
	FieldPlayers,
	FieldDeveloper,
	FieldPublisher,
	FieldGenre,
	FieldReleaseDate,
	FieldOverview,
	crawler.FieldURL,
}

// Extractor implements crawler.PageExtractor and crawler.DetailExtractor.
type Extractor struct {
	base *url.URL
}

// New builds an Extractor. An empty baseURL selects DefaultBaseURL.
func New(baseURL string) (*Extractor, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Extractor{base: base}, nil
}

// Columns lists the record fields in CSV order.
func (e *Extractor) Columns() []string {
	return append([]string(nil), columns...)
}

// ExtractPage reads the game rows of a list_games.php page. Rows without a
// title or link are skipped. HasNext is false once the pager marks "Next"
// as disabled.
func (e *Extractor) ExtractPage(payload crawler.Payload) (crawler.PageResult, error) {
	doc, err := parse(payload)
	if err != nil {
		return crawler.PageResult{}, err
	}
	base := e.resolveBase(payload)

	var result crawler.PageResult
	doc.Find(".list_item").Each(func(_ int, row *goquery.Selection) {
		link := row.Find(".game_title a").First()
		title := strings.TrimSpace(link.Text())
		href, ok := link.Attr("href")
		if title == "" || !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		gameURL := base.ResolveReference(ref).String()
		result.Items = append(result.Items, crawler.WorkItem{
			ID:   ItemID(gameURL),
			URL:  gameURL,
			Meta: map[string]string{FieldTitle: title},
		})
	})

	nextDisabled := doc.Find(".pagination .disabled").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "Next")
	}).Length() > 0
	result.HasNext = !nextDisabled
	return result, nil
}

// ExtractDetail maps a game.php page to a record. A page without an <h1>
// is not a game page and yields crawler.ErrExtract.
func (e *Extractor) ExtractDetail(item crawler.WorkItem, payload crawler.Payload) (crawler.Record, error) {
	doc, err := parse(payload)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return nil, fmt.Errorf("%w: no title on %s", crawler.ErrExtract, item.URL)
	}

	info := doc.Find(".gameinfo_item")
	platform := strings.TrimSpace(labelled(info, "Platform:").Find("a").Text())
	if platform == "" {
		platform = "Unknown"
	}
	var genres []string
	labelled(info, "Genre:").Find("a").Each(func(_ int, a *goquery.Selection) {
		if g := strings.TrimSpace(a.Text()); g != "" {
			genres = append(genres, g)
		}
	})

	return crawler.Record{
		crawler.FieldID:  item.ID,
		crawler.FieldURL: item.URL,
		FieldTitle:       title,
		FieldPlatform:    platform,
		FieldPlayers:     labelledText(info, "Players:"),
		FieldDeveloper:   strings.TrimSpace(labelled(info, "Developer:").Find("a").Text()),
		FieldPublisher:   strings.TrimSpace(labelled(info, "Publisher:").Find("a").Text()),
		FieldGenre:       strings.Join(genres, ", "),
		FieldReleaseDate: labelledText(info, "Release Date:"),
		FieldOverview:    labelledText(info, "Overview:"),
	}, nil
}

// ItemID returns the id query parameter of a game URL, or the URL itself.
func ItemID(gameURL string) string {
	u, err := url.Parse(gameURL)
	if err != nil {
		return gameURL
	}
	if id := strings.TrimSpace(u.Query().Get("id")); id != "" {
		return id
	}
	return gameURL
}

func (e *Extractor) resolveBase(payload crawler.Payload) *url.URL {
	for _, raw := range []string{payload.FinalURL, payload.URL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			return u
		}
	}
	return e.base
}

func parse(payload crawler.Payload) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", crawler.ErrExtract, err)
	}
	return doc, nil
}

func labelled(items *goquery.Selection, label string) *goquery.Selection {
	return items.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), label)
	})
}

func labelledText(items *goquery.Selection, label string) string {
	text := labelled(items, label).Text()
	return strings.TrimSpace(strings.Replace(text, label, "", 1))
}
