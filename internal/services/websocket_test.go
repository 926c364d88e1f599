package services

import (
	"testing"
	"time"

	"questboard/internal/models"
)

func newHubClient(id string) *DashboardClient {
	return &DashboardClient{ID: id, Send: make(chan DashboardEvent, 16)}
}

func TestDashboardHub_RegisterAndCount(t *testing.T) {
	hub := NewDashboardHub()
	go hub.Run()

	if hub.GetClientCount() != 0 {
		t.Fatalf("expected empty hub, got %d clients", hub.GetClientCount())
	}

	a := newHubClient("a")
	b := newHubClient("b")
	hub.register <- a
	hub.register <- b

	waitForClients(t, hub, 2)

	hub.unregister <- a
	waitForClients(t, hub, 1)

	// 重复注销不应影响计数
	hub.unregister <- a
	waitForClients(t, hub, 1)
}

func TestDashboardHub_Broadcast(t *testing.T) {
	hub := NewDashboardHub()
	go hub.Run()

	client := newHubClient("a")
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.Broadcast("sprint.updated", map[string]int{"sprint_id": 7})

	select {
	case event := <-client.Send:
		if event.Type != "sprint.updated" {
			t.Errorf("expected type sprint.updated, got %s", event.Type)
		}
		if event.Timestamp.IsZero() {
			t.Error("expected timestamp set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestDashboardHub_NotifyNewAction(t *testing.T) {
	hub := NewDashboardHub()
	go hub.Run()

	client := newHubClient("a")
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.NotifyNewAction(&models.AutomationAction{ID: 42, Type: "stale_ticket"})

	select {
	case event := <-client.Send:
		if event.Type != "automation.action_proposed" {
			t.Errorf("expected type automation.action_proposed, got %s", event.Type)
		}
		action, ok := event.Data.(*models.AutomationAction)
		if !ok || action.ID != 42 {
			t.Errorf("expected action 42 in payload, got %+v", event.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action event")
	}
}

func TestDashboardHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewDashboardHub()
	go hub.Run()

	// 缓冲为 0 的客户端模拟写入积压
	slow := &DashboardClient{ID: "slow", Send: make(chan DashboardEvent)}
	fast := newHubClient("fast")
	hub.register <- slow
	hub.register <- fast
	waitForClients(t, hub, 2)

	hub.Broadcast("tick", 1)
	hub.Broadcast("tick", 2)

	// 快客户端仍能收到全部消息
	for i := 0; i < 2; i++ {
		select {
		case <-fast.Send:
		case <-time.After(time.Second):
			t.Fatalf("fast client missed event %d", i+1)
		}
	}
}

func waitForClients(t *testing.T, hub *DashboardHub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.GetClientCount())
}
