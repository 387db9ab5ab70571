package reconciliation

import (
	"fmt"
	"strings"
	"time"
)

// Period is a reconciliation window [From, To) in UTC.
type Period struct {
	Key  string
	From time.Time
	To   time.Time
}

const (
	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
)

// ParsePeriod accepts a month ("2024-03") or a single day ("2024-03-15").
func ParsePeriod(key string) (Period, error) {
	key = strings.TrimSpace(key)
	if t, err := time.Parse(monthLayout, key); err == nil && len(key) == len(monthLayout) {
		return Period{Key: t.Format(monthLayout), From: t, To: t.AddDate(0, 1, 0)}, nil
	}
	if t, err := time.Parse(dayLayout, key); err == nil && len(key) == len(dayLayout) {
		return Period{Key: t.Format(dayLayout), From: t, To: t.AddDate(0, 0, 1)}, nil
	}
	return Period{}, fmt.Errorf("%w: period %q must be YYYY-MM or YYYY-MM-DD", ErrInvalidRequest, key)
}
