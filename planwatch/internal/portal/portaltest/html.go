package portaltest

import (
	"html"
	"strconv"
	"strings"
)

// Comment is a fixture comment. Empty fields are left out of the markup.
type Comment struct {
	Address string
	Stance  string
	Date    string
	Text    string
}

// CommentsPage renders a neighbour comments listing in IdoxPA markup.
func CommentsPage(comments ...Comment) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Comments</title></head><body><div id="comments">`)
	for _, c := range comments {
		b.WriteString(`<div class="comment">`)
		if c.Address != "" {
			b.WriteString(`<h2 class="consultationAddress">` + html.EscapeString(c.Address) + `</h2>`)
		}
		if c.Stance != "" {
			b.WriteString(`<h3 class="consultationStance">(` + html.EscapeString(c.Stance) + `)</h3>`)
		}
		if c.Date != "" {
			b.WriteString(`<h3>Comment submitted date: ` + html.EscapeString(c.Date) + `</h3>`)
		}
		if c.Text != "" {
			b.WriteString(`<div class="comment-text"><p>` + html.EscapeString(c.Text) + `</p></div>`)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// RateLimitPage is the portal's throttling notice.
const RateLimitPage = `<html><head><title>Too Many Requests</title></head><body><p>You have been temporarily blocked.</p></body></html>`

// ResultsPage renders one page of search results. An empty next renders a
// disabled pager.
func ResultsPage(links []string, next string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul id="searchresults">`)
	for _, l := range links {
		b.WriteString(`<li class="searchresult"><a class="summaryLink" href="` + html.EscapeString(l) + `">` + html.EscapeString(l) + `</a></li>`)
	}
	b.WriteString(`</ul><p class="pager">`)
	if next == "" {
		b.WriteString(`<a class="next disabled">Next</a>`)
	} else {
		b.WriteString(`<a class="next" href="` + html.EscapeString(next) + `">Next</a>`)
	}
	b.WriteString(`</p></body></html>`)
	return b.String()
}

// SearchForm renders a search page with one text input.
func SearchForm(inputID string) string {
	return `<html><body><form><input type="text" id="` + inputID + `"/></form></body></html>`
}

// Row is one label/value row of an application details table.
type Row struct{ Label, Value string }

// DetailsPage renders an application tab with the given table rows, the
// summary tab link and a comments tab carrying count (negative = no count).
// A "Reference" row is also rendered as the page's case number.
func DetailsPage(summaryHref string, count int, rows ...Row) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="tabs">`)
	b.WriteString(`<li><a id="tab_summary" href="` + html.EscapeString(summaryHref) + `">Summary</a></li>`)
	label := "Comments"
	if count >= 0 {
		label += " (" + strconv.Itoa(count) + ")"
	}
	b.WriteString(`<li><a id="tab_makeComment">` + label + `</a></li></ul><table>`)
	for _, r := range rows {
		b.WriteString(`<tr><th>` + html.EscapeString(r.Label) + `</th><td>` + html.EscapeString(r.Value) + `</td></tr>`)
	}
	b.WriteString(`</table>`)
	for _, r := range rows {
		if r.Label == "Reference" {
			b.WriteString(`<span class="caseNumber">` + html.EscapeString(r.Value) + `</span>`)
		}
	}
	b.WriteString(`</body></html>`)
	return b.String()
}
