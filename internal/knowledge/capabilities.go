// Package knowledge implements the built-in capabilities over the SQLite
// knowledge store: profile lookup, title search and generation.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/db"
)

// UnknownLevel is reported when no knowledge level matches a category.
const UnknownLevel = "unknown"

// NoMemoryMessage is the description returned for an unknown category.
const NoMemoryMessage = "No specific memory found for this category."

// NewProfileLookup returns the profile-lookup capability. A category with no
// stored level is a declared failure (Found=false), not an error.
func NewProfileLookup(conn *sql.DB) capability.Capability {
	return capability.Typed(capability.ProfileLookupDescriptor(),
		func(_ context.Context, q capability.ProfileQuery) (capability.ProfileResult, error) {
			return LookupProfile(conn, q.Category)
		},
		digestProfile)
}

// LookupProfile resolves a category to its stored knowledge level.
func LookupProfile(conn *sql.DB, category string) (capability.ProfileResult, error) {
	kl, found, err := db.GetKnowledgeLevel(conn, category)
	if err != nil {
		return capability.ProfileResult{}, err
	}
	if !found {
		return capability.ProfileResult{
			Category:    category,
			Level:       UnknownLevel,
			Description: NoMemoryMessage,
			Found:       false,
		}, nil
	}
	return capability.ProfileResult{
		Category:    kl.Category,
		Level:       kl.Level,
		Description: kl.Description,
		Found:       true,
	}, nil
}

func digestProfile(q capability.ProfileQuery, out capability.ProfileResult) capability.Digest {
	summary := fmt.Sprintf("%s: %s", out.Category, out.Level)
	if !out.Found {
		summary = fmt.Sprintf("%s: %s", q.Category, NoMemoryMessage)
	}
	return capability.Digest{
		Summary: summary,
		Facts: map[string]any{
			"category":    out.Category,
			"level":       out.Level,
			"description": out.Description,
			"found":       out.Found,
		},
		RawRef: "knowledge_levels:" + db.NormalizeCategory(out.Category),
	}
}

// NewTitleSearch returns the title-search capability. Results hold titles
// only; limit caps them when the call does not ask for fewer.
func NewTitleSearch(conn *sql.DB, limit int) capability.Capability {
	return capability.Typed(capability.TitleSearchDescriptor(),
		func(_ context.Context, q capability.TitleQuery) (capability.TitleResult, error) {
			n := limit
			if q.Limit > 0 && (n <= 0 || q.Limit < n) {
				n = q.Limit
			}
			titles, err := db.SearchTitles(conn, q.Keywords, n)
			if err != nil {
				return capability.TitleResult{}, err
			}
			return capability.TitleResult{Titles: titles, Count: len(titles)}, nil
		},
		digestTitles)
}

func digestTitles(q capability.TitleQuery, out capability.TitleResult) capability.Digest {
	summary := fmt.Sprintf("%d title(s) for %q", out.Count, strings.Join(q.Keywords, " "))
	if out.Count > 0 {
		summary += ": " + strings.Join(out.Titles, ", ")
	}
	return capability.Digest{
		Summary: summary,
		Facts: map[string]any{
			"titles":   out.Titles,
			"keywords": q.Keywords,
		},
		RawRef: "documents:search?" + strings.Join(q.Keywords, "+"),
	}
}
