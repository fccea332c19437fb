package events

import "testing"

// A nil *Publisher must behave as a no-op so callers never need to guard
// every call site behind a "is NATS configured" check.
func TestNilPublisher_IsANoOp(t *testing.T) {
	var p *Publisher

	p.PublishProgress(ProgressEvent{TaskID: "t1", Keyword: "kw"})
	p.PublishAlert(AlertEvent{ID: "a1", DrugID: "d1"})
	p.Close()

	if err := p.ProvisionStreams(); err != nil {
		t.Fatalf("ProvisionStreams on nil publisher should be a no-op, got err: %v", err)
	}
}
