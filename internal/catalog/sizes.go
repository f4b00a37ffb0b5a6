package catalog

import (
	"sort"
	"strconv"
	"strings"
)

var letterSizeRank = map[string]int{
	"XXS": 0, "XS": 1, "S": 2, "M": 3, "L": 4, "XL": 5, "XXL": 6, "XXXL": 7,
}

// CompareSizes orders size labels: letter sizes (XXS..XXXL) first, then numeric
// sizes ascending, then everything else lexically.
func CompareSizes(a, b string) int {
	ra, na, ka := sizeRank(a)
	rb, nb, kb := sizeRank(b)
	if ka != kb {
		return ka - kb
	}
	switch ka {
	case 0:
		return ra - rb
	case 1:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// SortSizes sorts labels in place with CompareSizes.
func SortSizes(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool { return CompareSizes(labels[i], labels[j]) < 0 })
}

// sizeRank returns (letter rank, numeric value, class) where class is
// 0 for letter sizes, 1 for numeric sizes and 2 for anything else.
func sizeRank(label string) (int, float64, int) {
	up := strings.ToUpper(strings.TrimSpace(label))
	if r, ok := letterSizeRank[up]; ok {
		return r, 0, 0
	}
	if f, err := strconv.ParseFloat(up, 64); err == nil {
		return 0, f, 1
	}
	return 0, 0, 2
}
