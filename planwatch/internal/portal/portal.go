// Package portal is the contract between the harvester and an IdoxPA /
// Public Access planning portal. It names the DOM conventions the portal
// family shares (Selectors), the browser capability the harvester drives
// (Page), and the read helpers that turn a rendered page into typed fields.
//
// Interaction (navigate, type, click, wait) goes through Page; reading goes
// through a goquery snapshot of the rendered DOM, so every find/text/attr
// query has one implementation regardless of the browser behind it.
package portal

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrRateLimited is returned when the portal refuses a request for
	// sending too many (HTTP 429 or its HTML equivalent).
	ErrRateLimited = errors.New("portal: rate limited")
	// ErrElementNotFound is returned when an interaction target is missing
	// or did not appear before the wait timeout.
	ErrElementNotFound = errors.New("portal: element not found")
	// ErrFieldAbsent marks a field that could not be read from the page.
	ErrFieldAbsent = errors.New("portal: field absent")
)

// Page is one browser tab pointed at a portal. Implementations are not safe
// for concurrent use: the harvester drives one page at a time.
type Page interface {
	// Navigate loads url and waits for the document to settle.
	Navigate(ctx context.Context, url string) error
	// URL is the address of the currently loaded document.
	URL() string
	// Document snapshots the rendered DOM.
	Document(ctx context.Context) (*goquery.Document, error)
	// Type replaces the value of the input matched by selector with text and
	// presses Enter.
	Type(ctx context.Context, selector, text string) error
	// Click clicks the first element matched by selector.
	Click(ctx context.Context, selector string) error
	// WaitFor blocks until selector matches or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
}

// Selectors are the CSS selectors of the IdoxPA page family.
type Selectors struct {
	Comment        string `yaml:"comment"`
	CommentAddress string `yaml:"comment_address"`
	CommentStance  string `yaml:"comment_stance"`
	CommentDate    string `yaml:"comment_date"`
	CommentText    string `yaml:"comment_text"`

	ReferenceInput string `yaml:"reference_input"`
	SummaryTab     string `yaml:"summary_tab"`
	SimpleSearch   string `yaml:"simple_search"`
	ResultLink     string `yaml:"result_link"`
	NextPage       string `yaml:"next_page"`
	CommentsTab    string `yaml:"comments_tab"`
	CaseNumber     string `yaml:"case_number"`
}

// DatePrefix is the heading text that precedes a comment's submission date.
const DatePrefix = "Comment submitted date:"

// DefaultSelectors returns the selectors used by IdoxPA portals.
func DefaultSelectors() Selectors {
	return Selectors{
		Comment:        ".comment",
		CommentAddress: ".consultationAddress",
		CommentStance:  ".consultationStance",
		CommentDate:    `h3:contains("` + DatePrefix + `")`,
		CommentText:    ".comment-text",
		ReferenceInput: "#reference",
		SummaryTab:     "#tab_summary",
		SimpleSearch:   "#simpleSearchString",
		ResultLink:     "a.summaryLink",
		NextPage:       "a.next",
		CommentsTab:    "#tab_makeComment",
		CaseNumber:     ".caseNumber",
	}
}

// WithDefaults fills every empty selector from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.Comment, d.Comment)
	fill(&s.CommentAddress, d.CommentAddress)
	fill(&s.CommentStance, d.CommentStance)
	fill(&s.CommentDate, d.CommentDate)
	fill(&s.CommentText, d.CommentText)
	fill(&s.ReferenceInput, d.ReferenceInput)
	fill(&s.SummaryTab, d.SummaryTab)
	fill(&s.SimpleSearch, d.SimpleSearch)
	fill(&s.ResultLink, d.ResultLink)
	fill(&s.NextPage, d.NextPage)
	fill(&s.CommentsTab, d.CommentsTab)
	fill(&s.CaseNumber, d.CaseNumber)
	return s
}
