package broker

import (
	"fmt"
	"testing"
)

func TestConfigURL(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{Server: "127.0.0.1", Port: "1883"}, "tcp://127.0.0.1:1883"},
		{Config{Server: "broker.local:1884", Port: "1883"}, "tcp://broker.local:1884"},
		{Config{Server: "127.0.0.1"}, "tcp://127.0.0.1"},
	}
	for _, tc := range cases {
		if got := tc.cfg.URL(); got != tc.want {
			t.Errorf("URL(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}

func TestPublisherID(t *testing.T) {
	id := PublisherID()
	if len(id) != 16 {
		t.Errorf("PublisherID length = %d, want 16", len(id))
	}
	if id[:8] != "Elo_Pub_" {
		t.Errorf("PublisherID prefix = %q", id[:8])
	}
	if id == PublisherID() {
		t.Error("PublisherID should be unique per call")
	}
}

func TestPartitionStable(t *testing.T) {
	p := NewPool(Config{}, 8, 100, nil)

	// Same topic always lands on the same worker; that is what preserves
	// per-topic publish order.
	topics := []string{"member/alice/res/login", "room/r-1/res/join", "game/g1/res/game_over"}
	for _, topic := range topics {
		first := p.partition(topic)
		for i := 0; i < 10; i++ {
			if got := p.partition(topic); got != first {
				t.Fatalf("partition(%q) unstable: %d then %d", topic, first, got)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("partition(%q) = %d out of range", topic, first)
		}
	}
}

func TestPartitionInRange(t *testing.T) {
	// Odd worker count so the hash modulo is exercised across the full
	// uint32 range; with a 32-bit int a signed intermediate goes negative
	// for hashes above MaxInt32.
	p := NewPool(Config{}, 7, 100, nil)
	for i := 0; i < 1000; i++ {
		topic := fmt.Sprintf("member/user-%d/res/score", i)
		if got := p.partition(topic); got < 0 || got >= 7 {
			t.Fatalf("partition(%q) = %d, want [0,7)", topic, got)
		}
	}
}

func TestPoolQueueCapSplit(t *testing.T) {
	p := NewPool(Config{}, 4, 10000, nil)
	for i, q := range p.queues {
		if cap(q) != 2500 {
			t.Errorf("queue %d cap = %d, want 2500", i, cap(q))
		}
	}

	// Degenerate split still leaves room for one message per worker.
	p = NewPool(Config{}, 8, 4, nil)
	for i, q := range p.queues {
		if cap(q) != 1 {
			t.Errorf("queue %d cap = %d, want 1", i, cap(q))
		}
	}
}

func TestPoolDepth(t *testing.T) {
	p := NewPool(Config{}, 2, 10, nil)
	p.Enqueue(Message{Topic: "a/b/res/c", Payload: []byte("{}")})
	p.Enqueue(Message{Topic: "d/e/res/f", Payload: []byte("{}")})

	if got := p.Depth(); got != 2 {
		t.Errorf("Depth = %d, want 2", got)
	}
}
