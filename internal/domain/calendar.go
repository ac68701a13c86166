package domain

import "time"

// CalendarDay возвращает календарную дату момента t в поясе loc.
// Результат нормализован к полуночи UTC, чтобы одинаково кодироваться в DATE.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
