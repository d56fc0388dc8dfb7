package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tag-ingest/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Status values published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonUnexpected = "unexpected_disconnect"
	ReasonGraceful   = "graceful_shutdown"
)

// StatusMessage is the payload of the status topic.
type StatusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	RunID     string `json:"run_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StorageMessage is the payload of the storage topic.
type StorageMessage struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildClientOptions creates paho options from the mqtt config section:
// broker URL (tcp:// or ssl://), client ID, credentials, auto-reconnect
// with backoff, keepalive and TLS.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT makes the broker publish a retained offline status if the
// connection drops without a graceful Close.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, runID string) {
	opts.SetWill(topics.Status(), string(statusPayload(StatusOffline, topics.ClientID, runID, ReasonUnexpected)), 1, true)
}

func statusPayload(status, clientID, runID, reason string) []byte {
	b, _ := json.Marshal(StatusMessage{ //nolint:errcheck // Plain struct always marshals
		Status:    status,
		ClientID:  clientID,
		RunID:     runID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

func storagePayload(available bool, err error) []byte {
	msg := StorageMessage{
		Available: available,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	b, _ := json.Marshal(msg) //nolint:errcheck // Plain struct always marshals
	return b
}
