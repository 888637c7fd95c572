package mqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sable-ai/sable/internal/config"
)

func testBridge() *Bridge {
	cfg := config.MQTTConfig{
		BrokerURL:    "mqtt://localhost:1883",
		ClientID:     "sable",
		InboundTopic: "sable/inbound",
		ReplyTopic:   "sable/reply",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Handler nil: any of these payloads reaching dispatch would panic.
	return NewBridge(cfg, nil, nil, logger)
}

func TestOnInboundRejectsBadPayloads(t *testing.T) {
	b := testBridge()

	cases := []string{
		`not json`,
		`{}`,
		`{"user_id":"alex"}`,
		`{"content":"hi"}`,
		`{"user_id":"","content":"hi"}`,
	}
	for _, payload := range cases {
		b.onInbound(context.Background(), "sable/inbound", []byte(payload))
	}
}

func TestAvailabilityTopicUsesClientID(t *testing.T) {
	b := testBridge()
	if got, want := b.availabilityTopic(), "sable/availability"; got != want {
		t.Errorf("availabilityTopic() = %q, want %q", got, want)
	}
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	b := testBridge()
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}
