package tracking

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	OpenPath  = "/tracking/open"
	ClickPath = "/tracking/click"
)

var (
	anchorTag = regexp.MustCompile(`(?is)<a\b[^>]*>`)
	hrefAttr  = regexp.MustCompile(`(?is)(\shref\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	bodyClose = regexp.MustCompile(`(?i)</body\s*>`)
)

// Injector adds the open pixel and click redirects to outgoing HTML.
//
// Rewriting is textual and regex-based, not a full HTML parse. Anchors with
// unquoted hrefs, or attributes containing the other quote style inside the
// value, may be left untouched. That behavior is kept stable so previously
// sent campaigns and newly sent ones track the same way.
type Injector struct {
	baseURL string
}

// NewInjector creates an Injector for the public tracking base URL.
func NewInjector(baseURL string) *Injector {
	return &Injector{baseURL: strings.TrimRight(baseURL, "/")}
}

// OpenURL returns the pixel URL for a recipient.
func (i *Injector) OpenURL(recipientID string) string {
	return i.baseURL + OpenPath + "?rid=" + url.QueryEscape(recipientID)
}

// ClickURL returns the redirect URL that records a click on target.
func (i *Injector) ClickURL(recipientID, target string) string {
	return i.baseURL + ClickPath + "?rid=" + url.QueryEscape(recipientID) + "&url=" + url.QueryEscape(target)
}

// Pixel returns the invisible image tag for a recipient.
func (i *Injector) Pixel(recipientID string) string {
	return fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;border:0;" />`,
		i.OpenURL(recipientID))
}

// Inject rewrites trackable links and adds the open pixel. The pixel goes
// before the last </body> when the document has one, otherwise at the end.
// Output depends only on html, recipientID and the base URL.
func (i *Injector) Inject(html, recipientID string) string {
	out := i.RewriteLinks(html, recipientID)

	pixel := i.Pixel(recipientID)
	locs := bodyClose.FindAllStringIndex(out, -1)
	if len(locs) == 0 {
		return out + pixel
	}
	at := locs[len(locs)-1][0]
	return out[:at] + pixel + out[at:]
}

// RewriteLinks replaces the href of every trackable anchor with a click
// redirect. All other attributes of the tag are preserved byte for byte.
func (i *Injector) RewriteLinks(html, recipientID string) string {
	return anchorTag.ReplaceAllStringFunc(html, func(tag string) string {
		m := hrefAttr.FindStringSubmatchIndex(tag)
		if m == nil {
			return tag
		}

		quote := `"`
		valStart, valEnd := m[4], m[5]
		if valStart < 0 {
			quote = `'`
			valStart, valEnd = m[6], m[7]
		}
		href := tag[valStart:valEnd]
		if !i.trackable(href) {
			return tag
		}

		return tag[:m[3]] + quote + i.ClickURL(recipientID, href) + quote + tag[m[1]:]
	})
}

// trackable reports whether href is rewritten. Only targets the click
// handler will redirect to qualify, so relative, scheme-less and non-web
// links stay as the author wrote them.
func (i *Injector) trackable(href string) bool {
	if !redirectable(href) {
		return false
	}
	return !strings.HasPrefix(href, i.baseURL+"/tracking/")
}
