package portal

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RawComment is one comment container as rendered, before it is tied to an
// application or stored.
type RawComment struct {
	Address Field
	Stance  Field
	Date    Field
	Text    Field
}

// Comments reads every comment container on the page in DOM order. Each of
// the four sub-fields is read on its own: a missing one becomes an absent
// Field and never drops the comment.
func Comments(doc *goquery.Document, sel Selectors) []RawComment {
	var out []RawComment
	doc.Find(sel.Comment).Each(func(_ int, c *goquery.Selection) {
		out = append(out, RawComment{
			Address: readOne(c, sel.CommentAddress, collapse),
			Stance:  readOne(c, sel.CommentStance, stance),
			Date:    readOne(c, sel.CommentDate, submittedDate),
			Text:    readOne(c, sel.CommentText, paragraphs),
		})
	})
	return out
}

// CountComments returns the number of comment containers on the page.
func CountComments(doc *goquery.Document, sel Selectors) int {
	return doc.Find(sel.Comment).Length()
}

func readOne(scope *goquery.Selection, css string, clean func(string) string) Field {
	if css == "" {
		return Absent("no selector")
	}
	m := scope.Find(css).First()
	if m.Length() == 0 {
		return Absent("no match for " + css)
	}
	v := clean(m.Text())
	if v == "" {
		return Absent("empty " + css)
	}
	return Present(v)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stance(s string) string {
	return strings.Trim(collapse(s), "()")
}

func submittedDate(s string) string {
	s = collapse(s)
	if i := strings.Index(s, DatePrefix); i >= 0 {
		s = s[i+len(DatePrefix):]
	}
	return strings.TrimSpace(s)
}

// paragraphs keeps line structure but trims each line and drops blank ones.
func paragraphs(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = collapse(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// TableValue reads the cell next to the <th> whose normalised text equals
// label, as in the application details tables.
func TableValue(doc *goquery.Document, label string) Field {
	var cell *goquery.Selection
	doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if collapse(th.Text()) != label {
			return true
		}
		cell = th.NextAllFiltered("td").First()
		return false
	})
	if cell == nil || cell.Length() == 0 {
		return Absent("no row " + label)
	}
	v := collapse(cell.Text())
	if v == "" {
		return Absent("empty row " + label)
	}
	return Present(v)
}

var parenCount = regexp.MustCompile(`\((\d+)\)`)

// TabCount reads the parenthesised number in a tab label such as
// "Comments (12)". ok is false when the tab or the number is missing.
func TabCount(doc *goquery.Document, css string) (n int, ok bool) {
	tab := doc.Find(css).First()
	if tab.Length() == 0 {
		return 0, false
	}
	m := parenCount.FindStringSubmatch(tab.Text())
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Links returns the href of every element matched by css, resolved against
// base, in DOM order. Elements without an href are skipped.
func Links(doc *goquery.Document, css string, base string) []string {
	baseURL, _ := url.Parse(base)
	var out []string
	doc.Find(css).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		out = append(out, Resolve(baseURL, href))
	})
	return out
}

// Resolve makes href absolute against base. A nil base or a malformed href
// returns href unchanged.
func Resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// NextPage reports whether the pager offers an enabled "next" control.
func NextPage(doc *goquery.Document, css string) bool {
	next := doc.Find(css).First()
	if next.Length() == 0 {
		return false
	}
	class, _ := next.Attr("class")
	if strings.Contains(strings.ToLower(class), "disabled") {
		return false
	}
	if v, ok := next.Attr("aria-disabled"); ok && v == "true" {
		return false
	}
	return true
}

var rateLimitMarkers = []string{"too many requests", "rate limit", "temporarily blocked"}

// CheckRateLimit returns ErrRateLimited when the page is the portal's
// throttling notice rather than content.
func CheckRateLimit(doc *goquery.Document) error {
	text := strings.ToLower(doc.Find("title").Text() + " " + doc.Find("body").Text())
	for _, m := range rateLimitMarkers {
		if strings.Contains(text, m) {
			return fmt.Errorf("%w: page says %q", ErrRateLimited, m)
		}
	}
	return nil
}

// NavigationRateLimited reports whether a navigation error carries an HTTP
// 429 status.
func NavigationRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
