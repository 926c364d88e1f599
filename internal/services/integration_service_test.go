package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newIntegrationService(t *testing.T) *IntegrationService {
	return NewIntegrationService(newAutomationTestDB(t), logrus.New())
}

func TestIntegrationService_Upsert(t *testing.T) {
	svc := newIntegrationService(t)

	tests := []struct {
		name    string
		req     *IntegrationUpsertRequest
		wantErr bool
	}{
		{
			name: "jira",
			req:  &IntegrationUpsertRequest{Provider: "jira", Enabled: boolPtr(true), BaseURL: "https://example.atlassian.net"},
		},
		{
			name: "bitbucket",
			req:  &IntegrationUpsertRequest{Provider: "bitbucket", Workspace: "questboard"},
		},
		{
			name: "slack",
			req:  &IntegrationUpsertRequest{Provider: "slack"},
		},
		{
			name:    "unsupported provider",
			req:     &IntegrationUpsertRequest{Provider: "github"},
			wantErr: true,
		},
		{
			name:    "nil request",
			req:     nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integ, err := svc.Upsert(context.Background(), tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upsert() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if integ.ID == 0 {
				t.Error("expected non-zero ID")
			}
		})
	}
}

func TestIntegrationService_Upsert_UpdatesExisting(t *testing.T) {
	svc := newIntegrationService(t)

	first, err := svc.Upsert(context.Background(), &IntegrationUpsertRequest{
		Provider: "jira",
		Enabled:  boolPtr(true),
		BaseURL:  "https://old.atlassian.net",
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// 同一 provider 再次写入应更新同一行
	second, err := svc.Upsert(context.Background(), &IntegrationUpsertRequest{
		Provider: "jira",
		BaseURL:  "https://new.atlassian.net",
	})
	if err != nil {
		t.Fatalf("Upsert update failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same row, got %d and %d", first.ID, second.ID)
	}
	if second.BaseURL != "https://new.atlassian.net" {
		t.Errorf("expected base_url updated, got %s", second.BaseURL)
	}
	// 未提供的字段保持原值
	if !second.Enabled {
		t.Error("enabled flag must survive a partial update")
	}

	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected a single jira row, got %d", len(list))
	}
}

func TestIntegrationService_List_Sorted(t *testing.T) {
	svc := newIntegrationService(t)

	for _, p := range []string{"slack", "jira", "bitbucket"} {
		if _, err := svc.Upsert(context.Background(), &IntegrationUpsertRequest{Provider: p}); err != nil {
			t.Fatalf("Upsert %s failed: %v", p, err)
		}
	}

	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 integrations, got %d", len(list))
	}
	want := []string{"bitbucket", "jira", "slack"}
	for i, p := range want {
		if list[i].Provider != p {
			t.Errorf("position %d: expected %s, got %s", i, p, list[i].Provider)
		}
	}
}

func TestIntegrationService_MarkSynced(t *testing.T) {
	svc := newIntegrationService(t)

	if _, err := svc.Upsert(context.Background(), &IntegrationUpsertRequest{Provider: "jira"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := svc.MarkSyncFailed(context.Background(), "jira", "rate limited by upstream"); err != nil {
		t.Fatalf("MarkSyncFailed failed: %v", err)
	}

	list, _ := svc.List(context.Background())
	if list[0].LastError != "rate limited by upstream" {
		t.Errorf("expected sync error recorded, got %q", list[0].LastError)
	}
	if list[0].LastSyncedAt != nil {
		t.Error("failed sync must not set last_synced_at")
	}

	// 成功同步清除错误并写时间戳
	if err := svc.MarkSynced(context.Background(), "jira"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	list, _ = svc.List(context.Background())
	if list[0].LastError != "" {
		t.Errorf("expected error cleared, got %q", list[0].LastError)
	}
	if list[0].LastSyncedAt == nil {
		t.Error("expected last_synced_at set")
	}
}

func TestIntegrationService_MarkSynced_UnknownProvider(t *testing.T) {
	svc := newIntegrationService(t)

	if err := svc.MarkSynced(context.Background(), "jira"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := svc.MarkSyncFailed(context.Background(), "jira", "x"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
