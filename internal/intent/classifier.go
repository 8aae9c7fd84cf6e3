// Package intent maps free-text queries to task-type labels.
package intent

import (
	"sort"
	"strings"
)

// Classifier turns a natural-language query into zero or more task-type
// labels. Any component with this shape can substitute for the default
// keyword classifier.
type Classifier interface {
	ClassifyIntent(query string) []string
}

// KeywordClassifier matches literal keyword substrings against the
// lowered query. Multiple task types may match; result order follows
// the configured mapping order.
type KeywordClassifier struct {
	order    []string
	keywords map[string][]string
}

// NewKeywordClassifier builds a classifier from the given mapping, or the
// default NAS-domain mapping when the mapping is empty.
func NewKeywordClassifier(mappings map[string][]string) *KeywordClassifier {
	if len(mappings) == 0 {
		mappings = DefaultKeywords()
	}
	order := make([]string, 0, len(mappings))
	for _, tt := range defaultKeywordOrder {
		if _, ok := mappings[tt]; ok {
			order = append(order, tt)
		}
	}
	// Any task types outside the default set keep map-insertion-agnostic
	// but stable ordering by appending them sorted after the known ones.
	extras := make([]string, 0)
	for tt := range mappings {
		if !containsString(order, tt) {
			extras = append(extras, tt)
		}
	}
	sort.Strings(extras)
	order = append(order, extras...)

	return &KeywordClassifier{order: order, keywords: mappings}
}

// ClassifyIntent returns every task type with at least one keyword
// appearing as a substring of the lowered query. Never returns nil:
// an empty result means "classifier ran and found nothing".
func (c *KeywordClassifier) ClassifyIntent(query string) []string {
	lowered := strings.ToLower(query)
	matches := []string{}

	for _, taskType := range c.order {
		for _, keyword := range c.keywords[taskType] {
			if strings.Contains(lowered, keyword) {
				matches = append(matches, taskType)
				break
			}
		}
	}

	return matches
}

// KeywordMappings exposes the active mapping, mainly for diagnostics.
func (c *KeywordClassifier) KeywordMappings() map[string][]string {
	return c.keywords
}

var defaultKeywordOrder = []string{
	"user-ops",
	"storage-ops",
	"sharing-ops",
	"snapshot-ops",
	"apps-ops",
	"instance-ops",
	"vm-ops",
	"debug-ops",
	"meta-ops",
}

// DefaultKeywords is the built-in task-type keyword table for the NAS
// administration domain.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"user-ops":     {"user", "account", "permission", "login", "ssh"},
		"storage-ops":  {"pool", "zfs", "dataset", "volume", "quota", "replication", "disk"},
		"sharing-ops":  {"smb", "cifs", "nfs", "share", "iscsi", "afp"},
		"snapshot-ops": {"snapshot", "rollback", "clone", "replica"},
		"apps-ops":     {"app", "chart", "helm", "docker", "compose"},
		"instance-ops": {"incus", "vm", "virtual", "guest"},
		"vm-ops":       {"bhyve", "legacy vm", "virt"},
		"debug-ops":    {"debug", "diagnostic", "trace"},
		"meta-ops":     {"tool", "metadata", "list tools"},
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
