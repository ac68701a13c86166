package domain

import (
	"math"
	"testing"
)

func TestAnalyticsComputeRates(t *testing.T) {
	a := Analytics{ConnectionsSent: 8, ConnectionsAccepted: 2, MessagesSent: 0, MessagesReplied: 0}
	a.ComputeRates()
	if math.Abs(a.AcceptanceRate-0.25) > 1e-9 {
		t.Fatalf("ожидали acceptance_rate 0.25, получили %f", a.AcceptanceRate)
	}
	if a.ReplyRate != 0 {
		t.Fatalf("ожидали reply_rate 0 при нуле сообщений, получили %f", a.ReplyRate)
	}

	a = Analytics{MessagesSent: 4, MessagesReplied: 1}
	a.ComputeRates()
	if math.Abs(a.ReplyRate-0.25) > 1e-9 {
		t.Fatalf("ожидали reply_rate 0.25, получили %f", a.ReplyRate)
	}
}

func TestTargetValidate(t *testing.T) {
	cases := map[string]Target{
		"empty external id": {Name: "Ann"},
		"empty name":        {ExternalID: "ann"},
		"score above one":   {ExternalID: "ann", Name: "Ann", RelevanceScore: 1.2},
		"unknown status":    {ExternalID: "ann", Name: "Ann", Status: "lost"},
	}
	for name, target := range cases {
		if err := target.Validate(); err == nil {
			t.Fatalf("%s: ожидали ошибку валидации", name)
		}
	}
	ok := Target{ExternalID: "ann", Name: "Ann", RelevanceScore: 0.7, Status: StatusDiscovered}
	if err := ok.Validate(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestProfileSnapshotToTarget(t *testing.T) {
	snap := ProfileSnapshot{ExternalID: " ann-lee ", Name: "Ann Lee", Company: "Acme", Email: "", Phone: "+1", Skills: []string{"ml"}}
	target := snap.ToTarget()
	if target.ExternalID != "ann-lee" {
		t.Fatalf("ожидали обрезанный external_id, получили %q", target.ExternalID)
	}
	if target.Email != nil {
		t.Fatalf("пустой email должен остаться nil")
	}
	if target.Phone == nil || *target.Phone != "+1" {
		t.Fatalf("ожидали телефон +1")
	}
	if target.Profile == nil || len(target.Profile.Skills) != 1 {
		t.Fatalf("ожидали перенос навыков в profile_data")
	}
	if target.Status != StatusDiscovered {
		t.Fatalf("новая цель должна быть в статусе discovered")
	}
}

func TestViralPostEngagementRate(t *testing.T) {
	p := ViralPost{Reactions: 40, Comments: 8, Shares: 2}
	if got := p.EngagementRate(); math.Abs(got-0.05) > 1e-9 {
		t.Fatalf("ожидали 0.05, получили %f", got)
	}
}
