// Package broadcast fans one line out to every registered session
// except its sender.
package broadcast

import (
	"fmt"

	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/util"
)

// Message is one line of chat text and the member it came from.  A nil
// From means the relay itself; nobody is excluded.
type Message struct {
	Text string
	From registry.Member
}

// Broadcaster delivers messages to registry members.  Deliveries run
// synchronously on the caller's goroutine, one recipient at a time.
type Broadcaster struct {
	registry *registry.Registry
	logger   *util.Logger
	metrics  *metrics.Collector
}

// New returns a Broadcaster reading membership from reg.  logger and
// mc may be nil.
func New(reg *registry.Registry, logger *util.Logger, mc *metrics.Collector) *Broadcaster {
	return &Broadcaster{registry: reg, logger: logger, metrics: mc}
}

// Broadcast sends msg to every member other than msg.From and returns
// the number of deliveries attempted.  A failed delivery is logged and
// skipped; it is never reported to the caller.
func (b *Broadcaster) Broadcast(msg Message) int {
	exclude := ""
	if msg.From != nil {
		exclude = msg.From.ID()
	}

	attempted := 0
	b.registry.Each(func(m registry.Member) {
		if m.ID() == exclude {
			return
		}
		attempted++
		if err := deliver(m, msg.Text); err != nil {
			b.metrics.DeliveryFailed()
			b.logger.Verbose("delivery to %s failed: %v", m.ID(), err)
			return
		}
		b.metrics.Delivered()
	})

	b.logger.Debug("broadcast to %d recipients: %s", attempted, msg.Text)
	return attempted
}

// deliver isolates one recipient, including a panicking Send.
func deliver(m registry.Member, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return m.Send(text)
}
