// Package rules implements the deterministic noise filter that runs before
// any expensive extraction call. Verdicts depend only on the item and the
// loaded rule file, never on external state.
package rules

import (
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sentinel/internal/model"
)

// RuleSet is the on-disk shape of the noise filter configuration.
type RuleSet struct {
	// BlockedDomains rejects items whose URL or any outbound link resolves
	// to one of these domains (or a subdomain of one).
	BlockedDomains []string `yaml:"blocked_domains"`

	// AllowAuthors bypass every other check.
	AllowAuthors []string `yaml:"allow_authors"`

	// DenyAuthors are always rejected.
	DenyAuthors []string `yaml:"deny_authors"`

	// RejectKeywords reject on case-insensitive substring match.
	RejectKeywords []string `yaml:"reject_keywords"`

	// AcceptKeywords are required for authors on neither list; without a
	// match the item is rejected. Matched case-folded, so non-ASCII
	// keywords work.
	AcceptKeywords []string `yaml:"accept_keywords"`
}

// Filter evaluates the noise rules against normalized items.
type Filter struct {
	blockedDomains map[string]struct{}
	allowAuthors   map[string]struct{}
	denyAuthors    map[string]struct{}
	rejectKeywords []string
	acceptKeywords []string
	fold           cases.Caser
}

// Load reads a rule file and builds a Filter.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", path)
	}
	return New(rs), nil
}

// New builds a Filter from an in-memory rule set.
func New(rs RuleSet) *Filter {
	f := &Filter{
		blockedDomains: make(map[string]struct{}, len(rs.BlockedDomains)),
		allowAuthors:   make(map[string]struct{}, len(rs.AllowAuthors)),
		denyAuthors:    make(map[string]struct{}, len(rs.DenyAuthors)),
		fold:           cases.Fold(),
	}
	for _, d := range rs.BlockedDomains {
		f.blockedDomains[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, a := range rs.AllowAuthors {
		f.allowAuthors[a] = struct{}{}
	}
	for _, a := range rs.DenyAuthors {
		f.denyAuthors[a] = struct{}{}
	}
	for _, kw := range rs.RejectKeywords {
		f.rejectKeywords = append(f.rejectKeywords, f.fold.String(kw))
	}
	for _, kw := range rs.AcceptKeywords {
		f.acceptKeywords = append(f.acceptKeywords, f.fold.String(kw))
	}
	return f
}

// Accept returns the filter verdict for an item. Evaluation order:
// author allow-list accepts; author deny-list rejects; blocked domain
// rejects; reject-keyword rejects; otherwise accept only if an
// accept-keyword matches.
func (f *Filter) Accept(item model.Item) bool {
	if _, ok := f.allowAuthors[item.AuthorID]; ok {
		return true
	}
	if _, ok := f.denyAuthors[item.AuthorID]; ok {
		return false
	}

	if f.domainBlocked(item.URL) {
		return false
	}
	for _, link := range item.OutboundLinks {
		if f.domainBlocked(link) {
			return false
		}
	}

	text := f.fold.String(item.Text)
	for _, kw := range f.rejectKeywords {
		if strings.Contains(text, kw) {
			return false
		}
	}

	for _, kw := range f.acceptKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// domainBlocked reports whether the URL's host is a blocked domain or a
// subdomain of one. Unparseable URLs don't match any domain.
func (f *Filter) domainBlocked(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for {
		if _, ok := f.blockedDomains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
}
