package channel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"

	"presencesync/internal/models"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host: "127.0.0.1",
		Port: -1,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("Server failed to start")
	}

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns
}

func TestChannel_ConnectIdempotent(t *testing.T) {
	ns := startServer(t)

	ch := New(Config{ServerURL: ns.ClientURL()}, zerolog.Nop())
	defer ch.Disconnect()

	ctx := context.Background()
	if err := ch.Connect(ctx, "token-1"); err != nil {
		t.Fatalf("First connect failed: %v", err)
	}
	if err := ch.Connect(ctx, "token-1"); err != nil {
		t.Fatalf("Second connect failed: %v", err)
	}

	// The second call must be a no-op; exactly one connected edge appears
	select {
	case state := <-ch.Status():
		if state != StateConnected {
			t.Errorf("Expected connected edge, got %s", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a connected edge")
	}

	select {
	case state := <-ch.Status():
		t.Errorf("Expected no second status edge, got %s", state)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannel_EmitAndOn(t *testing.T) {
	ns := startServer(t)

	ch := New(Config{ServerURL: ns.ClientURL()}, zerolog.Nop())
	defer ch.Disconnect()

	// Subscribe before connecting; the subscription must survive Connect
	stream := ch.On(models.EventUserStatus)

	if err := ch.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	entry := models.PresenceEntry{UserID: "u1", Status: models.StatusActive}
	if err := ch.Emit(models.EventUserStatus, entry); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case data := <-stream:
		var got models.PresenceEntry
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Failed to unmarshal payload: %v", err)
		}
		if got.UserID != "u1" || got.Status != models.StatusActive {
			t.Errorf("Unexpected payload: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected payload on the stream")
	}
}

func TestChannel_EmitBeforeConnect(t *testing.T) {
	ch := New(Config{}, zerolog.Nop())

	if err := ch.Emit(models.EventUserActive, models.CredentialPayload{Token: "t"}); err == nil {
		t.Error("Expected emit before connect to fail")
	}
}

func TestChannel_DisconnectWithoutConnect(t *testing.T) {
	ch := New(Config{}, zerolog.Nop())
	// Must not panic
	ch.Disconnect()
	ch.Disconnect()
}
