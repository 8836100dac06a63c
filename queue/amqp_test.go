package queue

import (
	"testing"
	"time"
)

func TestAMQP_PublishTarget(t *testing.T) {
	t.Parallel()

	q := &AMQP{cfg: DefaultAMQPConfig("amqp://localhost", "durable.jobs")}

	env := NewEnvelope("notify.send", "tenant-1", nil)
	exchange, key := q.publishTarget(env)
	if exchange != "durable.jobs" || key != "notify.send" {
		t.Fatalf("immediate target = (%q, %q), want exchange + type key", exchange, key)
	}

	env.Metadata = &Metadata{OrderingKey: "tenant-1.mailbox"}
	if _, key = q.publishTarget(env); key != "tenant-1.mailbox" {
		t.Fatalf("routing key = %q, want ordering key", key)
	}

	// A delayed envelope hops through the holding queue on the default
	// exchange instead of the topic exchange.
	env.Metadata = &Metadata{Delay: 5 * time.Second}
	exchange, key = q.publishTarget(env)
	if exchange != "" || key != "durable.jobs.delayed" {
		t.Fatalf("delayed target = (%q, %q), want default exchange + holding queue", exchange, key)
	}
}

func TestAMQP_Expiration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		delay time.Duration
		want  string
	}{
		{250 * time.Millisecond, "250"},
		{5 * time.Second, "5000"},
		{2 * time.Minute, "120000"},
	}
	for _, tt := range tests {
		if got := expiration(tt.delay); got != tt.want {
			t.Errorf("expiration(%v) = %q, want %q", tt.delay, got, tt.want)
		}
	}
}
