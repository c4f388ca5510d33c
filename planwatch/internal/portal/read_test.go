package portal

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

const commentsPage = `<html><body>
<div class="comment">
  <h2 class="consultationAddress">10 Example Road,
     London, SW1A 1AA</h2>
  <h3 class="consultationStance">(Objects)</h3>
  <h3>Comment submitted date: Mon 15 Jan 2024</h3>
  <div class="comment-text"><p>Too tall.</p>
  <p>Blocks light.</p></div>
</div>
<div class="comment">
  <h3>Comment submitted date: Tue 16 Jan 2024</h3>
  <div class="comment-text">Support.</div>
</div>
<div class="comment">
  <h3 class="consultationStance">()</h3>
</div>
</body></html>`

func TestComments(t *testing.T) {
	got := Comments(parse(t, commentsPage), DefaultSelectors())
	if len(got) != 3 {
		t.Fatalf("comments = %d, want 3", len(got))
	}

	type flat struct{ Address, Stance, Date, Text string }
	view := func(c RawComment) flat {
		return flat{c.Address.Or("-"), c.Stance.Or("-"), c.Date.Or("-"), c.Text.Or("-")}
	}
	want := []flat{
		{"10 Example Road, London, SW1A 1AA", "Objects", "Mon 15 Jan 2024", "Too tall.\nBlocks light."},
		{"-", "-", "Tue 16 Jan 2024", "Support."},
		{"-", "-", "-", "-"},
	}
	var have []flat
	for _, c := range got {
		have = append(have, view(c))
	}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}

	if err := got[1].Address.Err(); !errors.Is(err, ErrFieldAbsent) {
		t.Errorf("absent address err = %v, want ErrFieldAbsent", err)
	}
}

func TestCountComments(t *testing.T) {
	if n := CountComments(parse(t, commentsPage), DefaultSelectors()); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	if n := CountComments(parse(t, "<html><body></body></html>"), DefaultSelectors()); n != 0 {
		t.Errorf("empty count = %d, want 0", n)
	}
}

const detailsPage = `<html><body><table>
<tr><th>Reference</th><td> 24/12345/FUL </td></tr>
<tr><th> Application Validated </th><td>Mon 08 Jan 2024</td></tr>
<tr><th>Decision</th><td></td></tr>
</table></body></html>`

func TestTableValue(t *testing.T) {
	doc := parse(t, detailsPage)
	if v, ok := TableValue(doc, "Reference").Value(); !ok || v != "24/12345/FUL" {
		t.Errorf("Reference = %q,%v", v, ok)
	}
	if v := TableValue(doc, "Application Validated").Or(""); v != "Mon 08 Jan 2024" {
		t.Errorf("Application Validated = %q", v)
	}
	if TableValue(doc, "Decision").IsPresent() {
		t.Error("empty Decision should be absent")
	}
	if TableValue(doc, "Proposal").IsPresent() {
		t.Error("missing Proposal should be absent")
	}
}

func TestTabCount(t *testing.T) {
	tests := []struct {
		html   string
		n      int
		wantOK bool
	}{
		{`<a id="tab_makeComment">Comments (12)</a>`, 12, true},
		{`<a id="tab_makeComment">Comments (0)</a>`, 0, true},
		{`<a id="tab_makeComment">Comments</a>`, 0, false},
		{`<a id="other">Comments (4)</a>`, 0, false},
	}
	for _, tt := range tests {
		n, ok := TabCount(parse(t, tt.html), "#tab_makeComment")
		if n != tt.n || ok != tt.wantOK {
			t.Errorf("TabCount(%s) = %d,%v, want %d,%v", tt.html, n, ok, tt.n, tt.wantOK)
		}
	}
}

func TestLinks(t *testing.T) {
	doc := parse(t, `<ul>
<li><a class="summaryLink" href="/online-applications/applicationDetails.do?keyVal=A1">a</a></li>
<li><a class="summaryLink">no href</a></li>
<li><a class="summaryLink" href="applicationDetails.do?keyVal=B2">b</a></li>
</ul>`)
	got := Links(doc, "a.summaryLink", "https://pa.example.gov.uk/online-applications/search.do")
	want := []string{
		"https://pa.example.gov.uk/online-applications/applicationDetails.do?keyVal=A1",
		"https://pa.example.gov.uk/online-applications/applicationDetails.do?keyVal=B2",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestNextPage(t *testing.T) {
	tests := []struct {
		html string
		want bool
	}{
		{`<a class="next" href="#">Next</a>`, true},
		{`<a class="next disabled">Next</a>`, false},
		{`<a class="next" aria-disabled="true">Next</a>`, false},
		{`<span>no pager</span>`, false},
	}
	for _, tt := range tests {
		if got := NextPage(parse(t, tt.html), "a.next"); got != tt.want {
			t.Errorf("NextPage(%s) = %v, want %v", tt.html, got, tt.want)
		}
	}
}

func TestCheckRateLimit(t *testing.T) {
	if err := CheckRateLimit(parse(t, "<title>429 Too Many Requests</title>")); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if err := CheckRateLimit(parse(t, commentsPage)); err != nil {
		t.Errorf("comments page flagged: %v", err)
	}
	if !NavigationRateLimited(errors.New("navigate: status 429")) {
		t.Error("429 navigation error not detected")
	}
	if NavigationRateLimited(errors.New("connection reset")) {
		t.Error("reset flagged as rate limit")
	}
}
