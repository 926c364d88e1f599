package services

import (
	"context"
	"testing"
	"time"

	"questboard/internal/models"
)

func uintPtr(v uint) *uint { return &v }

func TestCheckRegistry_Register(t *testing.T) {
	r := NewCheckRegistry()

	if err := r.Register("a", fixedCheck()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("b", fixedCheck()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// 重名拒绝
	if err := r.Register("a", fixedCheck()); err == nil {
		t.Fatal("expected error for duplicate name")
	}
	// 空名/空函数拒绝
	if err := r.Register("", fixedCheck()); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := r.Register("c", nil); err == nil {
		t.Fatal("expected error for nil func")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected registration order [a b], got %v", names)
	}
}

func TestDefaultCheckRegistry(t *testing.T) {
	r := DefaultCheckRegistry()
	names := r.Names()
	expected := []string{
		"stale_tickets", "pm_alerts", "sprint_gaps", "accountability",
		"workload_suggestions", "assignment_suggestions", "slack_insights",
	}
	if len(names) != len(expected) {
		t.Fatalf("expected %d checks, got %d: %v", len(expected), len(names), names)
	}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("check %d: expected %s, got %s", i, want, names[i])
		}
	}
}

func TestCheckStaleTickets(t *testing.T) {
	now := time.Now()
	snap := &CheckSnapshot{
		Now: now,
		Tickets: []models.Ticket{
			{ID: 1, Key: "QB-1", Title: "fresh", Status: "in_progress", UpdatedAt: now.Add(-24 * time.Hour)},
			{ID: 2, Key: "QB-2", Title: "stale", Status: "in_progress", UpdatedAt: now.Add(-5 * 24 * time.Hour)},
			{ID: 3, Key: "QB-3", Title: "done long ago", Status: "done", UpdatedAt: now.Add(-30 * 24 * time.Hour)},
			{ID: 4, Key: "QB-4", Title: "blocked stale", Status: "blocked", UpdatedAt: now.Add(-10 * 24 * time.Hour)},
		},
	}

	actions, err := CheckStaleTickets(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckStaleTickets failed: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 stale tickets, got %d", len(actions))
	}

	// 5 天空闲：40 + 5*10 = 90
	if actions[0].Confidence != 90 {
		t.Errorf("expected confidence 90 for 5 idle days, got %d", actions[0].Confidence)
	}
	// 10 天空闲封顶 95
	if actions[1].Confidence != 95 {
		t.Errorf("expected confidence capped at 95, got %d", actions[1].Confidence)
	}
	meta, ok := actions[0].Metadata.(StaleTicketMeta)
	if !ok {
		t.Fatalf("expected StaleTicketMeta, got %T", actions[0].Metadata)
	}
	if meta.TicketKey != "QB-2" || meta.DaysIdle != 5 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestCheckPMAlerts(t *testing.T) {
	assignee := uintPtr(1)
	snap := &CheckSnapshot{
		Now: time.Now(),
		Tickets: []models.Ticket{
			{ID: 1, Key: "QB-1", Title: "blocked normal", Status: "blocked", Priority: "normal"},
			{ID: 2, Key: "QB-2", Title: "blocked urgent", Status: "blocked", Priority: "urgent"},
			{ID: 3, Key: "QB-3", Title: "urgent unowned", Status: "open", Priority: "urgent"},
			{ID: 4, Key: "QB-4", Title: "urgent owned", Status: "open", Priority: "urgent", AssigneeID: assignee},
			{ID: 5, Key: "QB-5", Title: "urgent but done", Status: "done", Priority: "urgent"},
		},
	}

	actions, err := CheckPMAlerts(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckPMAlerts failed: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(actions))
	}

	if actions[0].Confidence != 75 {
		t.Errorf("blocked normal priority: expected 75, got %d", actions[0].Confidence)
	}
	if actions[1].Confidence != 90 {
		t.Errorf("blocked urgent: expected 90, got %d", actions[1].Confidence)
	}
	if actions[2].Confidence != 85 {
		t.Errorf("urgent unassigned: expected 85, got %d", actions[2].Confidence)
	}
	meta := actions[2].Metadata.(PMAlertMeta)
	if meta.Reason != "urgent_unassigned" {
		t.Errorf("expected reason urgent_unassigned, got %s", meta.Reason)
	}
}

func TestCheckSprintGaps(t *testing.T) {
	members := []models.TeamMember{
		{ID: 1, Name: "a", Role: "engineer", Active: true, CapacityPoints: 10},
		{ID: 2, Name: "b", Role: "engineer", Active: true, CapacityPoints: 10},
		{ID: 3, Name: "pm", Role: "pm", Active: true, CapacityPoints: 10},      // PM 不计入容量
		{ID: 4, Name: "gone", Role: "engineer", Active: false, CapacityPoints: 10}, // 停用不计入
	}

	tests := []struct {
		name      string
		committed int
		active    bool
		wantLen   int
		wantTitle string
	}{
		{"under-committed", 10, true, 1, "under-committed"}, // 10 < 80% of 20
		{"within range", 18, true, 0, ""},
		{"over-committed", 30, true, 1, "over-committed"}, // 30 > 120% of 20
		{"inactive sprint ignored", 5, false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &CheckSnapshot{
				Now:     time.Now(),
				Members: members,
				Sprints: []models.Sprint{{ID: 1, Name: "Sprint 9", CommittedPoints: tt.committed, Active: tt.active}},
			}
			actions, err := CheckSprintGaps(context.Background(), snap)
			if err != nil {
				t.Fatalf("CheckSprintGaps failed: %v", err)
			}
			if len(actions) != tt.wantLen {
				t.Fatalf("expected %d actions, got %d", tt.wantLen, len(actions))
			}
			if tt.wantLen == 1 {
				meta := actions[0].Metadata.(SprintGapMeta)
				if meta.CapacityPoints != 20 {
					t.Errorf("expected capacity 20 (active engineers only), got %d", meta.CapacityPoints)
				}
			}
		})
	}

	// 没有活跃工程师时不产生告警
	snap := &CheckSnapshot{
		Now:     time.Now(),
		Members: []models.TeamMember{{ID: 3, Name: "pm", Role: "pm", Active: true, CapacityPoints: 10}},
		Sprints: []models.Sprint{{ID: 1, Name: "Sprint 9", CommittedPoints: 100, Active: true}},
	}
	actions, err := CheckSprintGaps(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckSprintGaps failed: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("zero capacity must yield no warnings, got %d", len(actions))
	}
}

func TestCheckAccountability(t *testing.T) {
	now := time.Now()
	snap := &CheckSnapshot{
		Now: now,
		Members: []models.TeamMember{
			{ID: 1, Name: "quiet", Role: "engineer", Active: true},
			{ID: 2, Name: "busy", Role: "engineer", Active: true},
			{ID: 3, Name: "idle but free", Role: "engineer", Active: true},
		},
		Tickets: []models.Ticket{
			{ID: 1, Status: "in_progress", AssigneeID: uintPtr(1)},
			{ID: 2, Status: "in_progress", AssigneeID: uintPtr(2)},
			// 成员 3 没有 in_progress 工单
		},
		Activity: []models.ActivityRecord{
			{MemberID: 1, Kind: "commit", OccurredAt: now.Add(-4 * 24 * time.Hour)},
			{MemberID: 2, Kind: "pr_merged", OccurredAt: now.Add(-2 * time.Hour)},
		},
	}

	actions, err := CheckAccountability(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckAccountability failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 flag, got %d", len(actions))
	}

	meta := actions[0].Metadata.(AccountabilityMeta)
	if meta.MemberName != "quiet" {
		t.Errorf("expected member 'quiet', got %s", meta.MemberName)
	}
	if meta.DaysQuiet != 4 {
		t.Errorf("expected 4 quiet days, got %d", meta.DaysQuiet)
	}
	// 50 + 4*15 = 110，封顶 90
	if actions[0].Confidence != 90 {
		t.Errorf("expected confidence capped at 90, got %d", actions[0].Confidence)
	}
}

func TestCheckWorkloadSuggestions(t *testing.T) {
	snap := &CheckSnapshot{
		Now: time.Now(),
		Members: []models.TeamMember{
			{ID: 1, Name: "overloaded", Active: true},
			{ID: 2, Name: "fine", Active: true},
		},
		Tickets: []models.Ticket{
			{ID: 1, Status: "in_progress", AssigneeID: uintPtr(1)},
			{ID: 2, Status: "in_progress", AssigneeID: uintPtr(1)},
			{ID: 3, Status: "in_progress", AssigneeID: uintPtr(1)},
			{ID: 4, Status: "in_progress", AssigneeID: uintPtr(1)},
			{ID: 5, Status: "in_progress", AssigneeID: uintPtr(2)},
		},
	}

	actions, err := CheckWorkloadSuggestions(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckWorkloadSuggestions failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(actions))
	}
	meta := actions[0].Metadata.(WorkloadMeta)
	if meta.MemberName != "overloaded" || meta.InProgress != 4 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if actions[0].Confidence != 65 {
		t.Errorf("expected confidence 65, got %d", actions[0].Confidence)
	}
}

func TestCheckAssignmentSuggestions(t *testing.T) {
	snap := &CheckSnapshot{
		Now: time.Now(),
		Members: []models.TeamMember{
			{ID: 1, Name: "loaded", Role: "engineer", Active: true, CapacityPoints: 8},
			{ID: 2, Name: "free", Role: "engineer", Active: true, CapacityPoints: 8},
			{ID: 3, Name: "pm", Role: "pm", Active: true, CapacityPoints: 8},
		},
		Tickets: []models.Ticket{
			{ID: 1, Key: "QB-1", Status: "in_progress", AssigneeID: uintPtr(1)},
			{ID: 2, Key: "QB-2", Status: "open", AssigneeID: uintPtr(1)},
			{ID: 3, Key: "QB-3", Title: "unowned", Status: "open"},
		},
	}

	actions, err := CheckAssignmentSuggestions(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckAssignmentSuggestions failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(actions))
	}

	meta := actions[0].Metadata.(AssignTicketMeta)
	// 负载最低的工程师（free: 0 vs loaded: 2），PM 不参与
	if meta.SuggestedMember != "free" {
		t.Errorf("expected least-loaded engineer 'free', got %s", meta.SuggestedMember)
	}
	if meta.TicketKey != "QB-3" {
		t.Errorf("expected ticket QB-3, got %s", meta.TicketKey)
	}
	// 55 + 8*5 = 95，封顶 85
	if actions[0].Confidence != 85 {
		t.Errorf("expected confidence capped at 85, got %d", actions[0].Confidence)
	}

	// 没有候选工程师时静默
	empty := &CheckSnapshot{
		Now:     time.Now(),
		Members: []models.TeamMember{{ID: 3, Name: "pm", Role: "pm", Active: true}},
		Tickets: []models.Ticket{{ID: 3, Key: "QB-3", Status: "open"}},
	}
	actions, err = CheckAssignmentSuggestions(context.Background(), empty)
	if err != nil {
		t.Fatalf("CheckAssignmentSuggestions failed: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("no engineers means no suggestions, got %d", len(actions))
	}
}

func TestCheckSlackInsights(t *testing.T) {
	now := time.Now()
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-10 * 24 * time.Hour)

	snap := &CheckSnapshot{
		Now: now,
		SlackMessages: []models.SlackMessage{
			{Channel: "eng", TicketKey: "QB-1", Text: "still blocked on QB-1", PostedAt: recent},
			{Channel: "eng", TicketKey: "QB-1", Text: "anyone able to help with QB-1?", PostedAt: recent},
			{Channel: "eng", TicketKey: "QB-1", Text: "this is broken again", PostedAt: recent},
			{Channel: "eng", TicketKey: "QB-2", Text: "stuck on QB-2", PostedAt: recent}, // 只有一次，不达标
			{Channel: "eng", TicketKey: "QB-3", Text: "blocked forever", PostedAt: old},  // 超出回看窗口
			{Channel: "eng", TicketKey: "", Text: "help help help", PostedAt: recent},    // 没有工单引用
			{Channel: "eng", TicketKey: "QB-4", Text: "shipped and happy", PostedAt: recent}, // 无问题关键词
		},
	}

	actions, err := CheckSlackInsights(context.Background(), snap)
	if err != nil {
		t.Fatalf("CheckSlackInsights failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(actions))
	}

	meta := actions[0].Metadata.(SlackInsightMeta)
	if meta.TicketKey != "QB-1" || meta.Mentions != 3 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	// 40 + 3*15 = 85，封顶 80
	if actions[0].Confidence != 80 {
		t.Errorf("expected confidence capped at 80, got %d", actions[0].Confidence)
	}
}

func TestChecksAreSideEffectFree(t *testing.T) {
	// 同一快照连续执行两次应得到相同结果
	now := time.Now()
	snap := &CheckSnapshot{
		Now: now,
		Tickets: []models.Ticket{
			{ID: 1, Key: "QB-1", Title: "t", Status: "blocked", Priority: "urgent"},
		},
	}
	first, err := CheckPMAlerts(context.Background(), snap)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := CheckPMAlerts(context.Background(), snap)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical results, got %d and %d", len(first), len(second))
	}
	if first[0].Confidence != second[0].Confidence || first[0].Title != second[0].Title {
		t.Error("repeated execution over the same snapshot must be deterministic")
	}
}
