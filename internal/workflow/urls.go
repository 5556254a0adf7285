package workflow

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// BestURL turns a page url into a rule condition. Urls without a query are
// matched exactly. Otherwise a regular expression is built in which query
// parameters containing an uppercase letter, usually session tokens, match
// anything.
func BestURL(raw string) models.URLMatch {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		return models.ExactURL(raw)
	}
	prefix := strings.ToLower(u.Scheme) + "://"
	fragment := ""
	if u.Fragment != "" {
		fragment = "#" + u.EscapedFragment()
	}
	if u.RawQuery == "" && !u.ForceQuery {
		return models.ExactURL(prefix + u.Host + u.EscapedPath() + fragment)
	}

	params := strings.Split(u.RawQuery, "&")
	for i, p := range params {
		if strings.IndexFunc(p, unicode.IsUpper) >= 0 {
			params[i] = ".*"
		} else {
			params[i] = regexp.QuoteMeta(p)
		}
	}
	pattern := "^" + regexp.QuoteMeta(prefix+u.Host+u.EscapedPath()) +
		`\?` + strings.Join(params, "&") + regexp.QuoteMeta(fragment)
	return models.RegexURL(pattern)
}
