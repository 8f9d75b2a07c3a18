package tracking

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ignite/outreach/internal/service/sending"
)

// Query parameter names shared by the injector and the handlers.
const (
	ParamCampaign  = "cid"
	ParamMessage   = "mid"
	ParamToken     = "tid"
	ParamURL       = "url"
	ParamTimestamp = "timestamp"

	OpenPath  = "/track/open"
	ClickPath = "/track/click"
)

// Injector rewrites outbound HTML with an open pixel and click redirects.
// The body is parsed structurally; malformed markup is repaired by the
// HTML5 parser rather than skipped.
type Injector struct {
	baseURL string
	token   func() string
	now     func() time.Time
}

// NewInjector creates an injector whose tracking URLs point at baseURL.
func NewInjector(baseURL string) *Injector {
	return &Injector{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   NewToken,
		now:     time.Now,
	}
}

var _ sending.TrackingInjector = (*Injector)(nil)

// NewToken returns a fresh random 128-bit tracking token in hex.
func NewToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Inject returns body with instrumentation added according to opts and the
// number of hyperlinks rewritten. With both tracking flags off the body is
// returned untouched.
func (i *Injector) Inject(body string, opts sending.InjectOptions) (string, int, error) {
	if !opts.TrackOpens && !opts.TrackClicks {
		return body, 0, nil
	}

	fullDocument := strings.Contains(strings.ToLower(body), "<html")

	var root, container *html.Node
	if fullDocument {
		doc, err := html.Parse(strings.NewReader(body))
		if err != nil {
			return body, 0, fmt.Errorf("parse html: %w", err)
		}
		root = doc
		container = findElement(doc, atom.Body)
		if container == nil {
			container = doc
		}
	} else {
		container = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		nodes, err := html.ParseFragment(strings.NewReader(body), container)
		if err != nil {
			return body, 0, fmt.Errorf("parse html fragment: %w", err)
		}
		for _, n := range nodes {
			container.AppendChild(n)
		}
		root = container
	}

	rewritten := 0
	if opts.TrackClicks {
		goquery.NewDocumentFromNode(root).Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			href = strings.TrimSpace(href)
			if !trackableLink(href) || i.isTrackingURL(href) {
				return
			}
			s.SetAttr("href", i.clickURL(opts, href))
			rewritten++
		})
	}

	if opts.TrackOpens {
		token := i.token()
		container.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "img",
			DataAtom: atom.Img,
			Attr: []html.Attribute{
				{Key: "src", Val: i.openURL(opts, token, false)},
				{Key: "width", Val: "1"},
				{Key: "height", Val: "1"},
				{Key: "alt", Val: ""},
				{Key: "style", Val: "display:none"},
			},
		})
		container.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "link",
			DataAtom: atom.Link,
			Attr: []html.Attribute{
				{Key: "rel", Val: "preload"},
				{Key: "as", Val: "image"},
				{Key: "href", Val: i.openURL(opts, token, true)},
			},
		})
	}

	var buf bytes.Buffer
	if fullDocument {
		if err := html.Render(&buf, root); err != nil {
			return body, 0, fmt.Errorf("render html: %w", err)
		}
		return buf.String(), rewritten, nil
	}
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return body, 0, fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), rewritten, nil
}

func (i *Injector) openURL(opts sending.InjectOptions, token string, stamped bool) string {
	q := url.Values{}
	q.Set(ParamCampaign, opts.CampaignID)
	q.Set(ParamMessage, opts.MessageID)
	q.Set(ParamToken, token)
	if stamped {
		q.Set(ParamTimestamp, strconv.FormatInt(i.now().UnixMilli(), 10))
	}
	return i.baseURL + OpenPath + "?" + q.Encode()
}

func (i *Injector) clickURL(opts sending.InjectOptions, target string) string {
	q := url.Values{}
	q.Set(ParamCampaign, opts.CampaignID)
	q.Set(ParamMessage, opts.MessageID)
	q.Set(ParamToken, i.token())
	q.Set(ParamURL, target)
	return i.baseURL + ClickPath + "?" + q.Encode()
}

func (i *Injector) isTrackingURL(href string) bool {
	return strings.HasPrefix(href, i.baseURL+ClickPath) || strings.HasPrefix(href, i.baseURL+OpenPath)
}

// trackableLink reports whether href navigates somewhere a redirect can
// follow. In-page anchors and mail/phone/script schemes are left alone.
func trackableLink(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"mailto:", "tel:", "sms:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
