package httpapi

import (
	"time"

	"outreach-orchestrator/internal/domain"
)

type dailyView struct {
	Date        string `json:"date"`
	Connections int    `json:"connections"`
	Messages    int    `json:"messages"`
}

type quotaView struct {
	Date            string `json:"date"`
	ConnectionsSent int    `json:"connections_sent"`
	MessagesSent    int    `json:"messages_sent"`
	ProfileViews    int    `json:"profile_views"`
}

type targetView struct {
	ExternalID      string              `json:"external_id"`
	Name            string              `json:"name"`
	Company         string              `json:"company"`
	Title           string              `json:"title,omitempty"`
	Location        string              `json:"location,omitempty"`
	IsHiringManager bool                `json:"is_hiring_manager"`
	RelevanceScore  float64             `json:"relevance_score"`
	Status          domain.TargetStatus `json:"status"`
	OptOut          bool                `json:"opt_out"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newTargetView(t domain.Target) targetView {
	return targetView{
		ExternalID:      t.ExternalID,
		Name:            t.Name,
		Company:         t.Company,
		Title:           t.Title,
		Location:        t.Location,
		IsHiringManager: t.IsHiringManager,
		RelevanceScore:  t.RelevanceScore,
		Status:          t.Status,
		OptOut:          t.OptOut,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type postView struct {
	ID          int64                   `json:"id"`
	Content     string                  `json:"content"`
	ScheduledAt time.Time               `json:"scheduled_at"`
	PublishedAt *time.Time              `json:"published_at,omitempty"`
	Approved    bool                    `json:"approved"`
	Insights    *domain.ContentInsights `json:"insights,omitempty"`
	Metrics     *domain.PostMetrics     `json:"metrics,omitempty"`
	PromptKey   string                  `json:"prompt_key,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

func newPostView(p domain.Post) postView {
	return postView{
		ID:          p.ID,
		Content:     p.Content,
		ScheduledAt: p.ScheduledAt,
		PublishedAt: p.PublishedAt,
		Approved:    p.Approved,
		Insights:    p.Insights,
		Metrics:     p.Metrics,
		PromptKey:   p.PromptKey,
		CreatedAt:   p.CreatedAt,
	}
}
