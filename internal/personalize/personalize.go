// Package personalize fills {{token}} placeholders in campaign HTML with
// per-contact values.
//
// The placeholder syntax is a persisted contract: templates authored long ago
// must keep rendering the same way. Tokens are matched case-insensitively and
// tolerate whitespace inside the braces. Tokens that cannot be resolved are
// left in the output verbatim.
package personalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// NoContent replaces a body that would otherwise be sent blank.
const NoContent = "<p>(No content)</p>"

// Fields is a contact's untyped field bag.
type Fields map[string]any

// resolver produces the value for a built-in token. An empty result still
// replaces the token.
type resolver func(email string, f Fields) string

type builtin struct {
	name    string
	label   string
	resolve resolver
	pattern *regexp.Regexp
}

var builtins = []builtin{
	{name: "name", label: "Full Name", resolve: resolveName},
	{name: "firstName", label: "First Name", resolve: resolveFirstName},
	{name: "lastName", label: "Last Name", resolve: resolveLastName},
	{name: "email", label: "Email Address", resolve: resolveEmail},
	{name: "company", label: "Company", resolve: resolveCompany},
	{name: "phone", label: "Phone", resolve: resolvePhone},
}

func init() {
	for i := range builtins {
		builtins[i].pattern = tokenPattern(builtins[i].name)
	}
}

// Personalizer substitutes placeholders. The zero value is not usable; call New.
type Personalizer struct {
	patterns sync.Map // lower-cased key -> *regexp.Regexp
}

// New creates a Personalizer. It is safe for concurrent use.
func New() *Personalizer {
	return &Personalizer{}
}

// Personalize returns content with the built-in tokens resolved through their
// fallback chains, followed by every remaining string-valued field in the bag.
func (p *Personalizer) Personalize(content, email string, fields Fields) string {
	out := content
	for _, b := range builtins {
		if !b.pattern.MatchString(out) {
			continue
		}
		out = b.pattern.ReplaceAllLiteralString(out, b.resolve(email, fields))
	}

	for _, key := range fields.sortedKeys() {
		val, ok := fields[key].(string)
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out = p.patternFor(key).ReplaceAllLiteralString(out, val)
	}

	if strings.TrimSpace(out) == "" {
		return NoContent
	}
	return out
}

func (p *Personalizer) patternFor(key string) *regexp.Regexp {
	k := strings.ToLower(strings.TrimSpace(key))
	if re, ok := p.patterns.Load(k); ok {
		return re.(*regexp.Regexp)
	}
	re := tokenPattern(k)
	p.patterns.Store(k, re)
	return re
}

func tokenPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\{\{\s*` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\s*\}\}`)
}

// MergeTag describes a built-in placeholder for template editors.
type MergeTag struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Syntax string `json:"syntax"`
}

// MergeTags lists the built-in placeholders in resolution order.
func MergeTags() []MergeTag {
	out := make([]MergeTag, 0, len(builtins))
	for _, b := range builtins {
		out = append(out, MergeTag{Key: b.name, Label: b.label, Syntax: "{{" + b.name + "}}"})
	}
	return out
}

// lookup returns the first non-empty value among the candidate keys, matched
// case-insensitively. An exact-case key wins over a case-folded one.
func (f Fields) lookup(candidates ...string) string {
	for _, want := range candidates {
		if v := stringValue(f[want]); v != "" {
			return v
		}
		for _, key := range f.sortedKeys() {
			if strings.EqualFold(strings.TrimSpace(key), want) {
				if v := stringValue(f[key]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func (f Fields) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// LocalPart returns the text before the @ of an address.
func LocalPart(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolveFirstName(email string, f Fields) string {
	return coalesce(f.lookup("firstName", "first name", "first_name"), LocalPart(email))
}

func resolveLastName(_ string, f Fields) string {
	return f.lookup("lastName", "last name", "last_name")
}

func resolveName(email string, f Fields) string {
	full := strings.TrimSpace(
		f.lookup("firstName", "first name", "first_name") + " " +
			f.lookup("lastName", "last name", "last_name"))
	return coalesce(f.lookup("name", "full name"), full, LocalPart(email))
}

func resolveEmail(email string, f Fields) string {
	return coalesce(strings.TrimSpace(email), f.lookup("email"))
}

func resolveCompany(_ string, f Fields) string {
	return f.lookup("company", "company name", "organization")
}

func resolvePhone(_ string, f Fields) string {
	return f.lookup("phone", "phone number", "mobile")
}
