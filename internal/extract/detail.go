package extract

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"stockwatch/internal/catalog"
)

// detailScript collects the raw page facts parseDetail works on. The page
// stays dumb; every heuristic runs in Go where it can be tested.
const detailScript = `() => {
  const text = el => el ? (el.innerText || el.textContent || "").trim() : "";
  const attr = (el, names) => {
    for (const n of names) {
      const v = el.getAttribute(n);
      if (v !== null && v.trim() !== "") return v.trim();
    }
    return "";
  };
  const out = {
    title: text(document.querySelector("h1")),
    doc_title: document.title || "",
    body: text(document.body),
    price: "",
    selected: [],
    sizes: [],
    scripts: [],
    ld_json: [],
  };
  for (const sel of ["[class*='price']", "[data-test*='price']"]) {
    const el = document.querySelector(sel);
    if (el && text(el)) { out.price = text(el); break; }
  }
  for (const el of Array.from(document.querySelectorAll("[aria-pressed='true'], [aria-selected='true']")).slice(0, 10)) {
    out.selected.push(text(el));
  }
  for (const el of Array.from(document.querySelectorAll("button, [role='option'], [data-size]")).slice(0, 200)) {
    const cls = el.getAttribute("class") || "";
    const aria = el.getAttribute("aria-disabled") || "";
    out.sizes.push({
      label: text(el),
      qty: attr(el, ["data-available-qty", "data-inventory", "data-qty", "data-stock", "data-quantity"]),
      disabled: el.hasAttribute("disabled") || aria === "true" || aria === "disabled" || cls.includes("disabled"),
    });
  }
  for (const el of Array.from(document.querySelectorAll("script")).slice(0, 20)) {
    const raw = el.textContent || "";
    if (el.type === "application/ld+json") { out.ld_json.push(raw); continue; }
    const low = raw.toLowerCase();
    if (low.includes("variant") || low.includes("inventory")) out.scripts.push(raw);
  }
  return JSON.stringify(out);
}`

// linksScript lists every anchor href that could be a product page.
const linksScript = `() => JSON.stringify(Array.from(document.querySelectorAll("a[href*='/p']")).map(a => a.href))`

type sizeOption struct {
	Label    string `json:"label"`
	Qty      string `json:"qty"`
	Disabled bool   `json:"disabled"`
}

type pageData struct {
	Title    string       `json:"title"`
	DocTitle string       `json:"doc_title"`
	Body     string       `json:"body"`
	Price    string       `json:"price"`
	Selected []string     `json:"selected"`
	Sizes    []sizeOption `json:"sizes"`
	Scripts  []string     `json:"scripts"`
	LDJSON   []string     `json:"ld_json"`
}

func decodePageData(raw string) (pageData, error) {
	var d pageData
	err := json.Unmarshal([]byte(raw), &d)
	return d, err
}

// parseDetail builds a variant from page facts. ok is false when no title was found.
func parseDetail(d pageData, pageURL string, at time.Time) (catalog.Variant, bool) {
	title := CleanText(d.Title)
	if title == "" {
		title = CleanText(d.DocTitle)
	}
	if title == "" {
		return catalog.Variant{}, false
	}

	v := catalog.Variant{
		Title:    title,
		SKU:      detailSKU(d),
		Color:    detailColor(d, title),
		URL:      pageURL,
		LastSeen: at.UTC(),
		Sizes:    detailSizes(d),
	}
	v.Currency, v.Price = ParseMoney(d.Price)
	if !v.Price.Valid {
		v.Currency, v.Price = ParseMoney(d.Body)
	}
	v.Key = catalog.NormalizeKey(v.Title, v.SKU, v.Color, pageURL)
	return v.Normalize(), true
}

func detailSKU(d pageData) string {
	if sku := ParseSKU(d.Body); sku != "" {
		return sku
	}
	for _, raw := range d.LDJSON {
		if sku := ParseLDJSONSKU(raw); sku != "" {
			return sku
		}
	}
	return ""
}

func detailColor(d pageData, title string) string {
	if c := ParseColorLine(d.Body); c != "" {
		return CleanText(c)
	}
	for _, s := range d.Selected {
		s = CleanText(s)
		if s != "" && len(s) <= 40 && !cartLabelRe.MatchString(s) {
			return s
		}
	}
	return ParseTitleColor(title)
}

// detailSizes reads quantities from data attributes, then embedded inventory
// JSON, then falls back to enabled=1 / disabled=0 per size button.
func detailSizes(d pageData) map[string]catalog.Quantity {
	sizes := map[string]catalog.Quantity{}
	for _, opt := range d.Sizes {
		label, ok := ParseSizeLabel(opt.Label)
		if !ok || opt.Qty == "" {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(opt.Qty)); err == nil {
			sizes[label] = catalog.Qty(n)
		}
	}
	if len(sizes) > 0 {
		return sizes
	}

	for _, script := range d.Scripts {
		for label, n := range ParseInventoryJSON(script) {
			sizes[label] = catalog.Qty(n)
		}
	}
	if len(sizes) > 0 {
		return sizes
	}

	for _, opt := range d.Sizes {
		label, ok := ParseSizeLabel(opt.Label)
		if !ok {
			continue
		}
		if opt.Disabled {
			sizes[label] = catalog.Qty(0)
		} else {
			sizes[label] = catalog.Qty(1)
		}
	}
	return sizes
}
