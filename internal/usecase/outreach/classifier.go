package outreach

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"outreach-orchestrator/internal/domain"
)

// ProfileSignal — оценка профиля, извлечённая из свободного ответа модели.
type ProfileSignal struct {
	IsHiringManager bool
	RelevanceScore  float64
}

// DefaultSignal используется, когда ответ модели не удалось разобрать.
var DefaultSignal = ProfileSignal{IsHiringManager: false, RelevanceScore: 0.5}

var (
	hiringRe = regexp.MustCompile(`(?i)"?(?:is_)?hiring[ _]manager"?\s*:\s*"?(true|yes)\b`)
	scoreRe  = regexp.MustCompile(`(?i)score"?\s*:?\s*"?(\d*\.?\d+)`)
)

// ParseProfileSignal извлекает признак нанимающего менеджера и релевантность.
// Эвристика: признак истинен только при явной паре ключ-значение, оценка берётся
// из первого числа после слова score и ограничивается отрезком [0,1].
func ParseProfileSignal(text string) ProfileSignal {
	signal := DefaultSignal
	if strings.TrimSpace(text) == "" {
		return signal
	}
	signal.IsHiringManager = hiringRe.MatchString(text)
	if m := scoreRe.FindStringSubmatch(text); len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			signal.RelevanceScore = clamp01(v)
		}
	}
	return signal
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// describeProfile готовит текст профиля для шаблона profile_analyzer.
func describeProfile(p domain.ProfileSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "Company: %s\n", p.Company)
	fmt.Fprintf(&b, "Location: %s\n", p.Location)
	fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	fmt.Fprintf(&b, "Recent Activity: %s", jsonString(p.RecentActivity, "[]"))
	return b.String()
}
