package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// LoadLocation загружает часовой пояс календаря, допуская вольное написание
// ("europe/amsterdam", "America/New York").
func LoadLocation(raw string) (*time.Location, error) {
	name := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	if name == "" {
		return nil, ErrInvalidTimezone
	}
	for _, candidate := range []string{name, canonicalZoneName(name)} {
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, raw)
}

// canonicalZoneName приводит имя к виду базы IANA: заглавная буква в начале
// каждого сегмента, разделённого "/", "_" или "-".
func canonicalZoneName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	upper := true
	for _, r := range strings.ToLower(name) {
		if upper {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
		upper = r == '/' || r == '_' || r == '-'
	}
	return b.String()
}

// parseClock разбирает время суток в формате HH:MM.
func parseClock(raw string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// nextDaily возвращает ближайший момент hour:minute строго после after в поясе loc.
func nextDaily(after time.Time, hour, minute int, loc *time.Location) time.Time {
	local := after.In(loc)
	y, m, d := local.Date()
	candidate := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return candidate
}
