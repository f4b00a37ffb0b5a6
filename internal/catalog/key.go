package catalog

import (
	"regexp"
	"strings"
)

var (
	// Product detail URLs end in ".../<slug>/p" (optionally followed by a query).
	reProductPage = regexp.MustCompile(`/([^/]+)/p(?:$|\?)`)
	reNonSlug     = regexp.MustCompile(`[^a-z0-9]+`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

// KeySep joins the identity part and the color part of a key.
const KeySep = "::"

// NormalizeKey derives the identity of a variant from its noisy fields.
//
// First match wins:
//   - sku and color:   "sku::color"
//   - title and color: "title::color"
//   - otherwise a slug from the product URL (or title, or url) plus "::color" / "::na"
//
// A title without any ASCII letter or digit slugs to nothing but dashes, so
// the url is used instead; distinct products must not share a key.
//
// The result is lower-case and depends only on its inputs.
func NormalizeKey(title, sku, color, url string) string {
	title = strings.ToLower(CollapseSpaces(title))
	sku = strings.ToLower(CollapseSpaces(sku))
	color = strings.ToLower(CollapseSpaces(color))
	url = strings.TrimSpace(url)

	if sku != "" && color != "" {
		return sku + KeySep + color
	}
	if title != "" && color != "" {
		return title + KeySep + color
	}

	var slug string
	if m := reProductPage.FindStringSubmatch(url); m != nil {
		slug = strings.ToLower(m[1])
	} else {
		slug = Slugify(title)
		if strings.Trim(slug, "-") == "" {
			slug = Slugify(url)
		}
	}
	if color == "" {
		color = "na"
	}
	return slug + KeySep + color
}

// Slugify lower-cases s and collapses every run of non-alphanumerics into "-".
// Leading and trailing dashes are kept so keys stay stable across releases.
func Slugify(s string) string {
	return reNonSlug.ReplaceAllString(strings.ToLower(s), "-")
}

// CollapseSpaces trims s and squeezes internal whitespace to single spaces.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}
