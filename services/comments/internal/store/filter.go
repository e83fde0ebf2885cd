package store

import (
	"fmt"
	"slices"
	"strings"
)

// Visibility selects a moderation view over the comment table.
type Visibility int

const (
	// Current shows approved, public comments on allow-listed content types.
	Current Visibility = iota
	// LimitedCurrent is Current; kept separate so callers can be restricted further later.
	LimitedCurrent
	// Unfiltered applies no moderation predicate at all.
	Unfiltered
	// Removed shows only removed comments.
	Removed
	// Disapproved shows unremoved comments awaiting approval.
	Disapproved
)

var visibilityNames = map[Visibility]string{
	Current:        "current",
	LimitedCurrent: "limited",
	Unfiltered:     "unfiltered",
	Removed:        "removed",
	Disapproved:    "disapproved",
}

func (v Visibility) String() string {
	if s, ok := visibilityNames[v]; ok {
		return s
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// ParseVisibility maps a view name to a Visibility. Empty means Current.
func ParseVisibility(s string) (Visibility, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Current, nil
	}
	for v, name := range visibilityNames {
		if name == s {
			return v, nil
		}
	}
	return Current, fmt.Errorf("unknown visibility %q", s)
}

// Filter is the visibility policy applied to a query. All active predicates are
// conjoined, so combining them is order-independent.
type Filter struct {
	Visibility Visibility
	// AllowedContentTypes is the resolved allow-list used by Current views.
	AllowedContentTypes []int64
	// SpamChecked additionally requires a classifier verdict on Current views.
	SpamChecked bool
	// ExcludeRemoved drops removed comments regardless of Visibility.
	ExcludeRemoved bool
}

// NoFilter is the administrative view.
var NoFilter = Filter{Visibility: Unfiltered}

func (f Filter) current() bool {
	return f.Visibility == Current || f.Visibility == LimitedCurrent
}

// Match evaluates the filter against a single comment.
func (f Filter) Match(c Comment) bool {
	if f.ExcludeRemoved && c.IsRemoved {
		return false
	}
	switch f.Visibility {
	case Unfiltered:
		return true
	case Removed:
		return c.IsRemoved
	case Disapproved:
		return !c.IsRemoved && !c.IsApproved
	}
	if !c.IsApproved || !c.IsPublic {
		return false
	}
	if !slices.Contains(f.AllowedContentTypes, c.ContentTypeID) {
		return false
	}
	if f.SpamChecked && c.SpamStatus == nil {
		return false
	}
	return true
}

// predicates renders the filter as SQL conditions on the given table alias.
func (f Filter) predicates(alias string, a *sqlArgs) []string {
	var out []string
	col := func(name string) string { return alias + "." + name }

	if f.ExcludeRemoved {
		out = append(out, col("is_removed")+" = FALSE")
	}
	switch f.Visibility {
	case Unfiltered:
	case Removed:
		out = append(out, col("is_removed")+" = TRUE")
	case Disapproved:
		out = append(out, col("is_removed")+" = FALSE", col("is_approved")+" = FALSE")
	default:
		out = append(out, col("is_approved")+" = TRUE", col("is_public")+" = TRUE")
		if len(f.AllowedContentTypes) == 0 {
			out = append(out, "1 = 0")
		} else {
			out = append(out, col("content_type_id")+" IN ("+a.list(f.AllowedContentTypes)+")")
		}
		if f.SpamChecked {
			out = append(out, col("spam_status")+" IS NOT NULL")
		}
	}
	return out
}
