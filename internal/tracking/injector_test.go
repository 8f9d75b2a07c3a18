package tracking

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/service/sending"
)

func newTestInjector() *Injector {
	inj := NewInjector("https://trk.example.com/")
	n := 0
	inj.token = func() string {
		n++
		return "tok" + string(rune('0'+n))
	}
	inj.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return inj
}

func allOpts() sending.InjectOptions {
	return sending.InjectOptions{CampaignID: "c1", MessageID: "m1", TrackOpens: true, TrackClicks: true}
}

func parse(t *testing.T, s string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestInject_RewritesEveryLink(t *testing.T) {
	body := `<p>Hi <a href="https://acme.io/a?x=1&y=2">one</a> and <a class="btn" href="https://acme.io/b">two</a></p>`

	out, n, err := newTestInjector().Inject(body, allOpts())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc := parse(t, out)
	var targets []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(href)
		require.NoError(t, err)
		assert.Equal(t, "trk.example.com", u.Host)
		assert.Equal(t, ClickPath, u.Path)
		assert.Equal(t, "c1", u.Query().Get(ParamCampaign))
		assert.Equal(t, "m1", u.Query().Get(ParamMessage))
		assert.NotEmpty(t, u.Query().Get(ParamToken))
		targets = append(targets, u.Query().Get(ParamURL))
	})
	assert.Equal(t, []string{"https://acme.io/a?x=1&y=2", "https://acme.io/b"}, targets)

	cls, _ := doc.Find("a").Eq(1).Attr("class")
	assert.Equal(t, "btn", cls, "other attributes survive")
}

func TestInject_AddsPixelAndPreload(t *testing.T) {
	out, _, err := newTestInjector().Inject("<p>hello</p>", sending.InjectOptions{
		CampaignID: "c1", MessageID: "m1", TrackOpens: true,
	})
	require.NoError(t, err)

	doc := parse(t, out)
	src, ok := doc.Find(`img[width="1"][height="1"]`).Attr("src")
	require.True(t, ok)
	pixel, _ := url.Parse(src)
	assert.Equal(t, OpenPath, pixel.Path)
	assert.Equal(t, "tok1", pixel.Query().Get(ParamToken))

	href, ok := doc.Find(`link[rel="preload"][as="image"]`).Attr("href")
	require.True(t, ok)
	preload, _ := url.Parse(href)
	assert.Equal(t, "tok1", preload.Query().Get(ParamToken))
	assert.Equal(t, "1700000000000", preload.Query().Get(ParamTimestamp))
}

func TestInject_FreshTokenPerBody(t *testing.T) {
	inj := NewInjector("https://trk.example.com")
	opts := sending.InjectOptions{CampaignID: "c1", MessageID: "m1", TrackOpens: true}

	a, _, _ := inj.Inject("<p>x</p>", opts)
	b, _, _ := inj.Inject("<p>x</p>", opts)

	srcA, _ := parse(t, a).Find("img").Attr("src")
	srcB, _ := parse(t, b).Find("img").Attr("src")
	assert.NotEqual(t, srcA, srcB)
}

func TestInject_SkipsNonNavigableLinks(t *testing.T) {
	body := `<a href="mailto:a@b.io">mail</a><a href="#top">top</a><a href="tel:+1555">call</a><a>none</a><a href="https://ok.io">ok</a>`
	out, n, err := newTestInjector().Inject(body, sending.InjectOptions{CampaignID: "c", MessageID: "m", TrackClicks: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out, `href="mailto:a@b.io"`)
	assert.Contains(t, out, `href="#top"`)
}

func TestInject_AlreadyTrackedLinksNotDoubleWrapped(t *testing.T) {
	inj := newTestInjector()
	opts := sending.InjectOptions{CampaignID: "c", MessageID: "m", TrackClicks: true}
	once, n1, err := inj.Inject(`<a href="https://ok.io">ok</a>`, opts)
	require.NoError(t, err)
	twice, n2, err := inj.Inject(once, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)
	assert.Equal(t, 0, n2)
	assert.Equal(t, once, twice)
}

func TestInject_MalformedMarkup(t *testing.T) {
	// Unquoted attributes, unclosed tags and a '>' inside an attribute
	// value all defeat pattern-based rewriting.
	body := `<div><a href=https://acme.io/x title="a > b">x</a><p>unclosed <a HREF='https://acme.io/y'>y</div>`
	out, n, err := newTestInjector().Inject(body, sending.InjectOptions{CampaignID: "c", MessageID: "m", TrackClicks: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotContains(t, out, `href="https://acme.io`)
}

func TestInject_FullDocument(t *testing.T) {
	body := `<!DOCTYPE html><html><head><title>t</title></head><body><a href="https://acme.io">a</a></body></html>`
	out, n, err := newTestInjector().Inject(body, allOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))

	doc := parse(t, out)
	assert.Equal(t, 1, doc.Find("body > img").Length())
	assert.Equal(t, 1, doc.Find("html").Length())
}

func TestInject_NothingEnabled(t *testing.T) {
	body := `<a href="https://acme.io">a</a>`
	out, n, err := newTestInjector().Inject(body, sending.InjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, body, out)
}
