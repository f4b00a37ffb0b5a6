package notifier

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"stockwatch/internal/catalog"
	"stockwatch/internal/diff"
)

const (
	DefaultTitle          = "Catalog monitor"
	DefaultFooter         = "price / new arrival / stock monitor"
	DefaultColor          = 0x00AAFF
	DefaultEntryCap       = 20
	DefaultSizeCap        = 8
	DefaultMaxDescription = 4000

	// NoChangesText is the whole description when a forced report has nothing to say.
	NoChangesText = "No changes detected in this scan."
)

var sectionHeaders = map[diff.Kind]string{
	diff.KindNew:           "**🆕 New arrivals (new products / new variants)**",
	diff.KindPrice:         "**💲 Price changes**",
	diff.KindRestock:       "**✅ Back in stock**",
	diff.KindStockIncrease: "**📈 Stock increases**",
}

// FormatOptions tunes rendering. Zero fields take the package defaults.
type FormatOptions struct {
	Title  string
	Footer string
	// Color is the embed color; nil means DefaultColor. 0 is black.
	Color          *int
	EntryCap       int
	SizeCap        int
	MaxDescription int
	Now            time.Time
}

func (o FormatOptions) withDefaults() FormatOptions {
	if strings.TrimSpace(o.Title) == "" {
		o.Title = DefaultTitle
	}
	if strings.TrimSpace(o.Footer) == "" {
		o.Footer = DefaultFooter
	}
	if o.Color == nil {
		c := DefaultColor
		o.Color = &c
	}
	if o.EntryCap <= 0 {
		o.EntryCap = DefaultEntryCap
	}
	if o.SizeCap <= 0 {
		o.SizeCap = DefaultSizeCap
	}
	if o.MaxDescription <= 0 {
		o.MaxDescription = DefaultMaxDescription
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Format renders cs as a single webhook message.
func Format(cs diff.ChangeSet, opts FormatOptions) Message {
	opts = opts.withDefaults()

	var sections []string
	for _, kind := range diff.Kinds {
		entries := cs.Of(kind)
		if len(entries) == 0 {
			continue
		}
		if len(entries) > opts.EntryCap {
			entries = entries[:opts.EntryCap]
		}
		var b strings.Builder
		b.WriteString(sectionHeaders[kind])
		b.WriteString("\n")
		for _, c := range entries {
			writeEntry(&b, kind, c, opts.SizeCap)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	desc := NoChangesText
	if len(sections) > 0 {
		desc = strings.Join(sections, "\n\n")
	}

	return Message{
		Embeds: []Embed{{
			Title:       opts.Title,
			Description: truncateRunes(desc, opts.MaxDescription),
			Timestamp:   opts.Now.UTC().Format(time.RFC3339),
			Color:       *opts.Color,
			Footer:      Footer{Text: opts.Footer},
		}},
	}
}

func writeEntry(b *strings.Builder, kind diff.Kind, c diff.Change, sizeCap int) {
	v := c.New
	fmt.Fprintf(b, "• Name: %s\n", orDash(v.Title))
	fmt.Fprintf(b, "• SKU: %s\n", orDash(v.SKU))
	fmt.Fprintf(b, "• Color: %s\n", orDash(v.Color))
	if kind == diff.KindPrice && c.Old != nil {
		fmt.Fprintf(b, "• Price: %s (was %s, %s)\n", FormatPrice(v.Currency, v.Price),
			FormatPrice(c.Old.Currency, c.Old.Price), priceMove(c))
	} else {
		fmt.Fprintf(b, "• Price: %s\n", FormatPrice(v.Currency, v.Price))
	}
	if kind == diff.KindStockIncrease {
		fmt.Fprintf(b, "🧾 Stock: %s\n", increasedLine(c))
	} else {
		fmt.Fprintf(b, "🧾 Stock: %s\n", stockLine(v, sizeCap))
	}
	if v.URL != "" {
		b.WriteString(v.URL)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// FormatPrice renders "<currency> <price>" or N/A for an unknown price.
func FormatPrice(currency string, p catalog.Price) string {
	if !p.Valid {
		return "N/A"
	}
	return strings.TrimSpace(currency + " " + p.String())
}

func priceMove(c diff.Change) string {
	delta := math.Abs(c.PriceDelta())
	switch c.Direction() {
	case diff.Up:
		return fmt.Sprintf("↑ %.2f", delta)
	case diff.Down:
		return fmt.Sprintf("↓ %.2f", delta)
	default:
		return "="
	}
}

func stockLine(v catalog.Variant, sizeCap int) string {
	var parts []string
	for _, label := range v.SizeLabels() {
		q := v.Sizes[label]
		if !q.Present() {
			continue
		}
		if len(parts) == sizeCap {
			break
		}
		parts = append(parts, label+":"+q.String())
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func increasedLine(c diff.Change) string {
	labels := c.IncreasedSizes()
	if len(labels) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s:%d", label, c.Increased[label]))
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncateRunes(s string, maxN int) string {
	if maxN <= 0 || utf8.RuneCountInString(s) <= maxN {
		return s
	}
	r := []rune(s)
	return string(r[:maxN])
}
