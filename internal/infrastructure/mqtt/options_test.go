package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/daliserver/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "daliserver-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// TestBuildClientOptions verifies broker URL and identity wiring.
func TestBuildClientOptions(t *testing.T) {
	t.Run("plain tcp", func(t *testing.T) {
		opts := buildClientOptions(testConfig())

		if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
			t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
		}
		if opts.ClientID != "daliserver-test" {
			t.Errorf("ClientID = %q, want %q", opts.ClientID, "daliserver-test")
		}
		if !opts.AutoReconnect {
			t.Error("AutoReconnect = false, want true")
		}
	})

	t.Run("tls scheme", func(t *testing.T) {
		cfg := testConfig()
		cfg.Broker.TLS = true

		opts := buildClientOptions(cfg)
		if got := opts.Servers[0].Scheme; got != "ssl" {
			t.Errorf("scheme = %q, want %q", got, "ssl")
		}
		if opts.TLSConfig == nil {
			t.Error("TLSConfig = nil, want configured")
		}
	})

	t.Run("credentials", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth.Username = "user"
		cfg.Auth.Password = "pass"

		opts := buildClientOptions(cfg)
		if opts.Username != "user" {
			t.Errorf("Username = %q, want %q", opts.Username, "user")
		}
	})
}

// TestTopics verifies the topic namespace.
func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"bus event", topics.BusEvent(), "daliserver/bus/event"},
		{"bus response", topics.BusResponse(), "daliserver/bus/response"},
		{"system status", topics.SystemStatus(), "daliserver/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// TestStatusPayloads verifies the status documents are valid JSON with
// the expected fields.
func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
	}{
		{"online", buildOnlinePayload("daliserver-test"), "online"},
		{"graceful offline", buildOfflinePayload("daliserver-test"), "offline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &doc); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if doc["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", doc["status"], tt.wantStatus)
			}
			if doc["client_id"] != "daliserver-test" {
				t.Errorf("client_id = %q, want %q", doc["client_id"], "daliserver-test")
			}
			if doc["timestamp"] == "" {
				t.Error("timestamp missing")
			}
		})
	}
}

// TestPublishValidation verifies parameter validation before any broker
// interaction.
func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	if err := c.Publish("", []byte("x"), 0, false); err != ErrInvalidTopic {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("daliserver/bus/event", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("daliserver/bus/event", []byte("x"), 1, false); err != ErrNotConnected {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}
