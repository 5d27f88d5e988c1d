// Package monthgroup buckets events by "MON YYYY" and controls how many
// buckets the public event list shows.
package monthgroup

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

var monthAbbrev = [12]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// Key is a month bucket key such as "MAR 2024".
type Key string

// KeyFor returns the bucket key of a calendar date.
func KeyFor(d models.Date) Key {
	if d.Month < time.January || d.Month > time.December {
		return ""
	}
	return Key(fmt.Sprintf("%s %04d", monthAbbrev[d.Month-1], d.Year))
}

// CurrentMonthKey returns the bucket key for now in loc.
func CurrentMonthKey(now time.Time, loc *time.Location) Key {
	if loc != nil {
		now = now.In(loc)
	}
	return KeyFor(models.DateOf(now))
}

// Parse splits a key into its year and zero-based month index.
func (k Key) Parse() (year int, month int, err error) {
	parts := strings.Fields(string(k))
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed month key %q", string(k))
	}

	month = -1
	for i, abbrev := range monthAbbrev {
		if strings.EqualFold(parts[0], abbrev) {
			month = i
			break
		}
	}
	if month < 0 {
		return 0, 0, fmt.Errorf("unknown month %q in key %q", parts[0], string(k))
	}

	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad year in month key %q: %w", string(k), err)
	}
	return year, month, nil
}

// Less orders keys by year, then by calendar month. Malformed keys sort last.
func Less(a, b Key) bool {
	ay, am, aerr := a.Parse()
	by, bm, berr := b.Parse()
	switch {
	case aerr != nil || berr != nil:
		if aerr == nil {
			return true
		}
		if berr == nil {
			return false
		}
		return a < b
	case ay != by:
		return ay < by
	default:
		return am < bm
	}
}

// SortMonthKeys returns the keys in chronological order.
func SortMonthKeys(keys []Key) []Key {
	out := make([]Key, len(keys))
	copy(out, keys)
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// GroupByMonth buckets events by the month of their date. Order within a
// bucket follows the input order.
func GroupByMonth(events []models.EventRecord) map[Key][]models.EventRecord {
	groups := make(map[Key][]models.EventRecord)
	for _, e := range events {
		k := KeyFor(e.Date)
		groups[k] = append(groups[k], e)
	}
	return groups
}

// Bucket is one month of events.
type Bucket struct {
	Key    Key                  `json:"key"`
	Events []models.EventRecord `json:"events"`
}

// Buckets groups events and returns the buckets in chronological order.
func Buckets(events []models.EventRecord) []Bucket {
	groups := GroupByMonth(events)
	keys := make([]Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}

	buckets := make([]Bucket, 0, len(keys))
	for _, k := range SortMonthKeys(keys) {
		buckets = append(buckets, Bucket{Key: k, Events: groups[k]})
	}
	return buckets
}
