package extract

import (
	"encoding/json"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"stockwatch/internal/catalog"
)

var (
	moneyRe      = regexp.MustCompile(`([A-Z]{2}\$|US\$|CA\$|C\$|\$|€|£|¥)\s*([0-9]+(?:\.[0-9]{2})?)`)
	bareAmountRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]{2})?)`)
	styleSKURe   = regexp.MustCompile(`X\d{9,12}`)
	labelSKURe   = regexp.MustCompile(`(?i)(?:SKU|Style|Model)\s*[:#]\s*([A-Za-z0-9\-]+)`)
	colorLineRe  = regexp.MustCompile(`(?i)Color\s*:\s*(.+)`)
	titleColorRe = regexp.MustCompile(`\(([^()]+)\)$`)
	sizeLabelRe  = regexp.MustCompile(`(?i)^(XXS|XS|S|M|L|XL|XXL|XXXL|\d{1,2})$`)
	inventoryRe  = regexp.MustCompile(`(?is)"size"\s*:\s*"([^"]+?)"[^}]*?"inventory[^"]*?"\s*:\s*(-?\d+)`)
	cartLabelRe  = regexp.MustCompile(`(?i)add to (cart|bag)`)
	productPath  = regexp.MustCompile(`/[^/]+/p/?$`)
)

var textPolicy = bluemonday.StrictPolicy()

// CleanText strips markup, unescapes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return catalog.CollapseSpaces(html.UnescapeString(textPolicy.Sanitize(s)))
}

// ParseMoney finds a currency symbol and amount, e.g. "$360.00" or "CA$ 360".
// Without a symbol it falls back to the first bare amount; otherwise the
// price is unknown.
func ParseMoney(text string) (string, catalog.Price) {
	text = strings.ReplaceAll(text, ",", "")
	if text == "" {
		return "", catalog.UnknownPrice()
	}
	if m := moneyRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			return m[1], catalog.PriceOf(v)
		}
	}
	if m := bareAmountRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return "", catalog.PriceOf(v)
		}
	}
	return "", catalog.UnknownPrice()
}

// ParseSKU prefers the X000000000 style number, then a labeled SKU/Style/Model.
func ParseSKU(text string) string {
	if m := styleSKURe.FindString(text); m != "" {
		return m
	}
	if m := labelSKURe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParseColorLine returns the value of the first "Color: ..." line.
func ParseColorLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if m := colorLineRe.FindStringSubmatch(line); m != nil {
			if c := catalog.CollapseSpaces(m[1]); c != "" {
				return c
			}
		}
	}
	return ""
}

// ParseTitleColor reads a color from a trailing parenthesis: "Atom Hoody (Black)".
func ParseTitleColor(title string) string {
	if m := titleColorRe.FindStringSubmatch(strings.TrimSpace(title)); m != nil {
		return catalog.CollapseSpaces(m[1])
	}
	return ""
}

// ParseSizeLabel accepts letter sizes XXS..XXXL and one or two digit sizes.
func ParseSizeLabel(label string) (string, bool) {
	label = catalog.CollapseSpaces(label)
	if label == "" || len(label) > 10 || !sizeLabelRe.MatchString(label) {
		return "", false
	}
	return strings.ToUpper(label), true
}

// ParseInventoryJSON scans an embedded script for "size":"XL",..."inventory_quantity":3
// pairs. Negative quantities clamp to zero; later pairs win.
func ParseInventoryJSON(script string) map[string]int {
	lower := strings.ToLower(script)
	if !strings.Contains(lower, "variant") && !strings.Contains(lower, "inventory") {
		return nil
	}
	var out map[string]int
	for _, m := range inventoryRe.FindAllStringSubmatch(script, -1) {
		size := strings.ToUpper(strings.TrimSpace(m[1]))
		qty, err := strconv.Atoi(m[2])
		if size == "" || err != nil {
			continue
		}
		if out == nil {
			out = map[string]int{}
		}
		out[size] = max(0, qty)
	}
	return out
}

// ParseLDJSONSKU reads "sku" from a JSON-LD object.
func ParseLDJSONSKU(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return ""
	}
	switch v := obj["sku"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ProductLinks keeps product-page links on the collection's host, without
// fragments, deduplicated in first-seen order.
func ProductLinks(hrefs []string, collection *url.URL) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, h := range hrefs {
		u, err := url.Parse(strings.TrimSpace(h))
		if err != nil {
			continue
		}
		if collection != nil {
			u = collection.ResolveReference(u)
			if !strings.EqualFold(u.Hostname(), collection.Hostname()) {
				continue
			}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if !productPath.MatchString(u.Path) {
			continue
		}
		u.Fragment = ""
		s := u.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// PageURL returns the n-th (1-based) page of a paginated collection.
func PageURL(collection string, n int) string {
	if n <= 1 {
		return collection
	}
	u, err := url.Parse(collection)
	if err != nil {
		return collection + "?page=" + strconv.Itoa(n)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}
