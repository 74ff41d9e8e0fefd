package section

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/history/internal/platform/dateutil"
)

type sortKey struct {
	t   time.Time
	s   string
	set bool
}

// SortData returns a stably sorted copy of data. Date columns compare
// parsed dates, preferring the precomputed sortable value when the record
// has one; other columns compare lower-cased text. Records with equal keys
// keep their relative order.
func SortData(cfg Config, data []Record, s SortState) []Record {
	out := make([]Record, len(data))
	copy(out, data)
	if s.Key == "" || len(out) < 2 {
		return out
	}

	sortableField, isDate := cfg.DateKeys[s.Key]
	keys := make([]sortKey, len(out))
	for i, r := range out {
		if isDate {
			keys[i] = dateKey(r, s.Key, sortableField)
		} else {
			keys[i] = sortKey{s: strings.ToLower(r.Text(s.Key)), set: true}
		}
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		c := compareKeys(keys[idx[a]], keys[idx[b]], isDate)
		if s.Order == Desc {
			c = -c
		}
		return c < 0
	})

	sorted := make([]Record, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

func dateKey(r Record, key, sortableField string) sortKey {
	if sortableField != "" {
		if t, ok := dateutil.ParseSortable(r.Text(sortableField)); ok {
			return sortKey{t: t, set: true}
		}
	}
	if t, ok := dateutil.ParseDate(r.Text(key)); ok {
		return sortKey{t: t, set: true}
	}
	return sortKey{}
}

// compareKeys orders missing dates before every real date.
func compareKeys(a, b sortKey, isDate bool) int {
	if isDate {
		switch {
		case !a.set && !b.set:
			return 0
		case !a.set:
			return -1
		case !b.set:
			return 1
		case a.t.Before(b.t):
			return -1
		case a.t.After(b.t):
			return 1
		}
		return 0
	}
	return strings.Compare(a.s, b.s)
}
