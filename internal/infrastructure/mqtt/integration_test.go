//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndClose(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = ""
	cfg.Auth.Password = ""

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestIntegration_RequestRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = ""
	cfg.Auth.Password = ""
	cfg.Broker.ClientID = "irrigationd-int-sub"

	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	cfg.Broker.ClientID = "irrigationd-int-pub"
	pub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	topics := sub.Topics()
	received := make(chan string, 1)
	var calls atomic.Int32

	err = sub.Subscribe(topics.AllRequests(), 1, func(topic string, _ []byte) error {
		calls.Add(1)
		kind, _ := topics.RequestKind(topic)
		received <- kind
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(topics.AllRequests()) {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishJSON(topics.Request("circuits"), map[string]any{"populate": true}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case kind := <-received:
		if kind != "circuits" {
			t.Errorf("request kind = %q, want circuits", kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for request")
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}
