package portal

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Tabs of the application details view.
const (
	TabSummary  = "summary"
	TabDetails  = "details"
	TabComments = "neighbourComments"
)

// CommentsPagerParam is the query parameter that selects a comments page.
const CommentsPagerParam = "neighbourCommentsPager.page"

// Site is one council's portal, identified by the base URL of its
// online-applications root (e.g. https://pa.newham.gov.uk/online-applications).
type Site struct {
	Council string
	Base    string
}

func (s Site) root() string { return strings.TrimRight(s.Base, "/") }

// SearchURL is the reference search form.
func (s Site) SearchURL() string { return s.root() + "/search.do?action=advanced" }

// SimpleSearchURL is the free-text (postcode) search form.
func (s Site) SimpleSearchURL() string {
	return s.root() + "/search.do?action=simple&searchType=Application"
}

// DetailsURL is the summary tab of the application with the given keyVal.
func (s Site) DetailsURL(keyVal string) string {
	return s.root() + "/applicationDetails.do?activeTab=" + TabSummary + "&keyVal=" + url.QueryEscape(keyVal)
}

// WithTab points an application URL at another tab of the same application.
// URLs without an activeTab parameter fall back to substituting the
// "summary" path segment.
func WithTab(rawURL, tab string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("portal: parse %q: %w", rawURL, err)
	}
	q := u.Query()
	if q.Has("activeTab") {
		q.Set("activeTab", tab)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	if !strings.Contains(rawURL, TabSummary) {
		return "", fmt.Errorf("portal: %q has no tab to switch", rawURL)
	}
	return strings.Replace(rawURL, TabSummary, tab, 1), nil
}

// WithPage returns the URL of page n of an application's comments.
func WithPage(commentsURL string, n int) (string, error) {
	u, err := url.Parse(commentsURL)
	if err != nil {
		return "", fmt.Errorf("portal: parse %q: %w", commentsURL, err)
	}
	q := u.Query()
	q.Set(CommentsPagerParam, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PathSafe replaces the slashes of an application reference so it can be
// used as a file name.
func PathSafe(ref string) string { return strings.ReplaceAll(ref, "/", "_") }

// Canonical returns the canonical council identifier (trimmed, lower-case).
func Canonical(council string) string { return strings.ToLower(strings.TrimSpace(council)) }
