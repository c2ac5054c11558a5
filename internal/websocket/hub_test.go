package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/trivia-live/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testLogger())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// recv pops the next queued message from a client's send buffer
func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshaling message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message queued for client %s", c.id)
		return Message{}
	}
}

func TestSubscribeTracksRoles(t *testing.T) {
	h := newTestHub(t)
	host := NewClient(h, nil, testLogger())
	player := NewClient(h, nil, testLogger())
	h.Register(host)
	h.Register(player)

	h.Subscribe(host, "s1", RoleHost)
	h.Subscribe(player, "s1", RolePlayer)

	waitFor(t, "both subscriptions", func() bool {
		return h.GetSubscriberCount("s1") == 2
	})
	if got := h.GetTotalConnections(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	roles := h.GetRoleCounts("s1")
	if roles[RoleHost] != 1 || roles[RolePlayer] != 1 {
		t.Fatalf("expected one host and one player, got %v", roles)
	}

	// Resubscribing under a new role updates, not duplicates.
	h.Subscribe(player, "s1", RoleDisplay)
	waitFor(t, "role change", func() bool {
		return h.GetRoleCounts("s1")[RoleDisplay] == 1
	})
	if h.GetSubscriberCount("s1") != 2 {
		t.Fatalf("resubscribe must not add a subscriber, got %d", h.GetSubscriberCount("s1"))
	}
}

func TestBroadcastReachesOnlySessionSubscribers(t *testing.T) {
	h := newTestHub(t)
	watcher := NewClient(h, nil, testLogger())
	bystander := NewClient(h, nil, testLogger())
	h.Register(watcher)
	h.Register(bystander)
	h.Subscribe(watcher, "s1", RoleDisplay)
	h.Subscribe(bystander, "s2", RoleDisplay)
	waitFor(t, "subscriptions", func() bool {
		return h.GetSubscriberCount("s1") == 1 && h.GetSubscriberCount("s2") == 1
	})

	h.BroadcastSessionUpdate("s1", &domain.Session{ID: "s1", Phase: domain.PhaseQuestion, Version: 7})

	msg := recv(t, watcher)
	if msg.Type != MessageTypeSessionUpdate || msg.SessionID != "s1" {
		t.Fatalf("unexpected message %+v", msg)
	}

	select {
	case data := <-bystander.send:
		t.Fatalf("bystander received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterDropsSubscriptions(t *testing.T) {
	h := newTestHub(t)
	c := NewClient(h, nil, testLogger())
	h.Register(c)
	h.Subscribe(c, "s1", RolePlayer)
	waitFor(t, "subscription", func() bool {
		return h.GetSubscriberCount("s1") == 1
	})

	h.Unregister(c)
	waitFor(t, "unregister", func() bool {
		return h.GetSubscriberCount("s1") == 0 && h.GetTotalConnections() == 0
	})
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleHost, RolePlayer, RoleDisplay} {
		if !ValidRole(role) {
			t.Fatalf("expected %q to be valid", role)
		}
	}
	for _, role := range []string{"", "referee", "admin"} {
		if ValidRole(role) {
			t.Fatalf("expected %q to be invalid", role)
		}
	}
}
