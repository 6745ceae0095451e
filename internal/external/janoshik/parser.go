package janoshik

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/coarank/backend/internal/contracts"
)

// ParseListing extracts certificate entries from a listing page. pageURL is
// used to resolve relative links.
func ParseListing(r io.Reader, pageURL string) (*contracts.ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	elems := doc.Find(entrySelector)
	if elems.Length() == 0 {
		elems = doc.Find(fallbackSelector)
	}

	page := &contracts.ListingPage{
		HasNext: doc.Find(nextSelector).Length() > 0,
	}
	seen := make(map[string]bool)

	elems.Each(func(i int, s *goquery.Selection) {
		entry, ok := parseEntry(s, base)
		if !ok || seen[entry.ImageURL] {
			return
		}
		seen[entry.ImageURL] = true
		page.Entries = append(page.Entries, entry)
	})

	return page, nil
}

func parseEntry(s *goquery.Selection, base *url.URL) (contracts.ListingEntry, bool) {
	img := s
	if goquery.NodeName(s) != "img" {
		img = s.Find("img").First()
	}
	if img.Length() == 0 {
		return contracts.ListingEntry{}, false
	}

	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		return contracts.ListingEntry{}, false
	}

	imageURL, err := resolve(base, src)
	if err != nil {
		return contracts.ListingEntry{}, false
	}

	entry := contracts.ListingEntry{
		ImageURL:   imageURL,
		TaskNumber: TaskNumberFromURL(imageURL),
	}

	link := s
	if goquery.NodeName(s) != "a" {
		link = s.Find("a[href]").First()
	}
	if href, ok := link.Attr("href"); ok {
		if detail, err := resolve(base, strings.TrimSpace(href)); err == nil {
			entry.DetailURL = detail
			if entry.TaskNumber == "" {
				entry.TaskNumber = TaskNumberFromURL(detail)
			}
		}
	}

	return entry, true
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// TaskNumberFromURL finds the task number in a certificate URL, either as
// "/certificate(s)/<n>" or as a numeric file name. Returns "" when neither
// is present.
func TaskNumberFromURL(raw string) string {
	if m := taskNumberPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}

	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	if numericPattern.MatchString(name) {
		return name
	}
	return ""
}
