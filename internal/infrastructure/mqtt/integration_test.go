//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/RaduG/chanio-core/internal/infrastructure/config"
)

// Integration tests against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...
//
// The daemon side only publishes, so these tests watch the chanio
// topics with a plain paho subscriber.

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// watchTopic subscribes with a throwaway paho client and delivers
// payloads on the returned channel.
func watchTopic(t *testing.T, clientID, topic string) (<-chan []byte, func()) {
	t.Helper()
	opts := pahomqtt.NewClientOptions().
		AddBroker("tcp://127.0.0.1:1883").
		SetClientID(clientID)
	sub := pahomqtt.NewClient(opts)
	if token := sub.Connect(); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscriber connect: %v", token.Error())
	}

	msgs := make(chan []byte, 8)
	token := sub.Subscribe(topic, 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		msgs <- m.Payload()
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe %s: %v", topic, token.Error())
	}
	return msgs, func() { sub.Disconnect(250) }
}

func recvPayload(t *testing.T, msgs <-chan []byte) []byte {
	t.Helper()
	select {
	case p := <-msgs:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestIntegration_OnlineStatusAnnounced(t *testing.T) {
	msgs, stop := watchTopic(t, "chanio-int-watch-status", Topics{}.SystemStatus())
	defer stop()

	client, err := Connect(integrationConfig("chanio-int-status"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var status daemonStatus
	for {
		if err := json.Unmarshal(recvPayload(t, msgs), &status); err != nil {
			t.Fatalf("status payload not JSON: %v", err)
		}
		// Skip retained leftovers from earlier runs.
		if status.ClientID == "chanio-int-status" {
			break
		}
	}
	if status.Status != "online" {
		t.Errorf("status = %q, want online", status.Status)
	}
}

func TestIntegration_DeviceStateRetained(t *testing.T) {
	client, err := Connect(integrationConfig("chanio-int-state"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.DeviceState("0.0.1234")
	payload := []byte(`{"device_id":"0.0.1234","state":"online","online":true}`)
	if err := client.Publish(topic, payload, 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// A subscriber arriving after the publish must still see the state.
	msgs, stop := watchTopic(t, "chanio-int-late-sub", topic)
	defer stop()

	got := recvPayload(t, msgs)
	if string(got) != string(payload) {
		t.Errorf("retained payload = %s, want %s", got, payload)
	}

	// Clear the retained message for the next run.
	if err := client.Publish(topic, nil, 1, true); err != nil {
		t.Fatalf("clearing retained state: %v", err)
	}
}

func TestIntegration_GracefulCloseLeavesOfflineStatus(t *testing.T) {
	client, err := Connect(integrationConfig("chanio-int-close"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The retained status must now be the graceful offline document.
	msgs, stop := watchTopic(t, "chanio-int-post-close", Topics{}.SystemStatus())
	defer stop()

	var status daemonStatus
	if err := json.Unmarshal(recvPayload(t, msgs), &status); err != nil {
		t.Fatalf("status payload not JSON: %v", err)
	}
	if status.Status != "offline" {
		t.Errorf("status = %q, want offline", status.Status)
	}
	if status.Reason != "graceful_shutdown" {
		t.Errorf("reason = %q, want graceful_shutdown", status.Reason)
	}
}

func TestIntegration_ReconnectCallbacks(t *testing.T) {
	client, err := Connect(integrationConfig("chanio-int-callbacks"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	connects := make(chan struct{}, 1)
	client.SetOnConnect(func() {
		select {
		case connects <- struct{}{}:
		default:
		}
	})
	client.SetOnDisconnect(func(error) {})

	if !client.IsConnected() {
		t.Error("IsConnected() = false right after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
