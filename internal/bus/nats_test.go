package bus

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ovhwatch/stockwatch/internal/stock"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDeliver(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"valid", `{"kind":"became_available","plan_code":"vps-2025-model1","region":"FR","datacenter":"GRA","dwell_minutes":75}`, true},
		{"malformed", `not json`, false},
		{"missing plan", `{"kind":"became_available","region":"FR"}`, false},
		{"missing kind", `{"plan_code":"vps-2025-model1"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []stock.Event
			msg := &nats.Msg{Subject: "stock.available", Data: []byte(tt.data)}
			if ok := deliver(msg, func(ev stock.Event) { got = append(got, ev) }, quiet); ok != tt.want {
				t.Fatalf("deliver = %v, want %v", ok, tt.want)
			}
			if tt.want && (len(got) != 1 || got[0].Region != "FR" || got[0].DwellMinutes != 75) {
				t.Errorf("handled events = %+v", got)
			}
			if !tt.want && len(got) != 0 {
				t.Errorf("handler called for rejected message: %+v", got)
			}
		})
	}
}

// TestPublishSubscribe needs a running server; set NATS_TEST_URL to run it.
func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	pub, err := NewPublisher(url, "stockwatch.test."+time.Now().Format("150405.000000000"), "stockwatch-test")
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	received := make(chan stock.Event, 1)
	if _, err := pub.Subscribe(func(ev stock.Event) { received <- ev }, quiet); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := pub.conn.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := stock.Event{Kind: stock.BecameAvailable, PlanCode: "vps-1", Region: "US", Datacenter: "US-EAST-VA", DwellMinutes: 61}
	if err := pub.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.PlanCode != want.PlanCode || got.DwellMinutes != want.DwellMinutes {
			t.Errorf("received %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}
