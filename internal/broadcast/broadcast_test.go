package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
)

type recorder struct {
	id   string
	fail error
	boom bool

	mu  sync.Mutex
	got []string
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(text string) error {
	if r.boom {
		panic("write on torn-down connection")
	}
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	r.got = append(r.got, text)
	r.mu.Unlock()
	return nil
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	reg := registry.New()
	members := make([]*recorder, 5)
	for i := range members {
		members[i] = &recorder{id: fmt.Sprintf("m%d", i)}
		reg.Add(members[i])
	}

	b := New(reg, nil, nil)
	n := b.Broadcast(Message{Text: "m0: hello", From: members[0]})
	if n != 4 {
		t.Errorf("attempted = %d, want 4", n)
	}

	if got := members[0].lines(); len(got) != 0 {
		t.Errorf("sender received its own message: %v", got)
	}
	for _, m := range members[1:] {
		got := m.lines()
		if len(got) != 1 || got[0] != "m0: hello" {
			t.Errorf("%s got %v, want exactly one copy", m.id, got)
		}
	}
}

func TestBroadcast_NilSenderReachesEveryone(t *testing.T) {
	reg := registry.New()
	a, b := &recorder{id: "a"}, &recorder{id: "b"}
	reg.Add(a)
	reg.Add(b)

	if n := New(reg, nil, nil).Broadcast(Message{Text: "notice"}); n != 2 {
		t.Errorf("attempted = %d, want 2", n)
	}
	if len(a.lines()) != 1 || len(b.lines()) != 1 {
		t.Error("both members should receive a relay notice")
	}
}

func TestBroadcast_IsolatesFailures(t *testing.T) {
	reg := registry.New()
	sender := &recorder{id: "sender"}
	broken := &recorder{id: "broken", fail: errors.New("broken pipe")}
	panicky := &recorder{id: "panicky", boom: true}
	healthy := &recorder{id: "healthy"}
	for _, m := range []*recorder{sender, broken, panicky, healthy} {
		reg.Add(m)
	}

	mc := metrics.New()
	n := New(reg, nil, mc).Broadcast(Message{Text: "x", From: sender})
	if n != 3 {
		t.Errorf("attempted = %d, want 3", n)
	}
	if got := healthy.lines(); len(got) != 1 {
		t.Errorf("healthy recipient got %v", got)
	}
	if mc.DeliveryFailures() != 2 {
		t.Errorf("failures = %d, want 2", mc.DeliveryFailures())
	}
	if mc.Deliveries() != 1 {
		t.Errorf("deliveries = %d, want 1", mc.Deliveries())
	}
}

func TestBroadcast_EmptyRegistry(t *testing.T) {
	if n := New(registry.New(), nil, nil).Broadcast(Message{Text: "x"}); n != 0 {
		t.Errorf("attempted = %d, want 0", n)
	}
}

func TestBroadcast_ConcurrentSendersNoDuplicates(t *testing.T) {
	reg := registry.New()
	const n = 8
	members := make([]*recorder, n)
	for i := range members {
		members[i] = &recorder{id: fmt.Sprintf("m%d", i)}
		reg.Add(members[i])
	}
	b := New(reg, nil, nil)

	var wg sync.WaitGroup
	for i := range members {
		wg.Add(1)
		go func(from *recorder) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Broadcast(Message{Text: fmt.Sprintf("%s:%d", from.id, j), From: from})
			}
		}(members[i])
	}
	wg.Wait()

	for _, m := range members {
		got := m.lines()
		if len(got) != (n-1)*10 {
			t.Errorf("%s received %d lines, want %d", m.id, len(got), (n-1)*10)
		}
		seen := map[string]bool{}
		for _, line := range got {
			if seen[line] {
				t.Errorf("%s received duplicate %q", m.id, line)
			}
			seen[line] = true
		}
	}
}
