package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/RaduG/chanio-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// disconnectQuiesceMillis lets pending publishes drain on Close.
	disconnectQuiesceMillis = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2
)

// buildClientOptions maps the mqtt section of config.yaml onto paho
// options: broker address, credentials, reconnect backoff and the LWT.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// No broker-side session state to resume: everything the daemon
	// publishes is either retained or a fire-and-forget event.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	// The broker publishes the crash payload if the daemon vanishes
	// without a graceful Close. Retained so late subscribers see it.
	opts.SetWill(Topics{}.SystemStatus(), string(statusPayload("offline", cfg.Broker.ClientID, "unexpected_disconnect")), 1, true)

	return opts
}

// daemonStatus is the document on chanio/system/status.
type daemonStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) []byte {
	p, err := json.Marshal(daemonStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Marshalling a flat string struct cannot fail.
		panic(err)
	}
	return p
}

func statusOnline(clientID string) []byte {
	return statusPayload("online", clientID, "")
}

func statusOffline(clientID string) []byte {
	return statusPayload("offline", clientID, "graceful_shutdown")
}
