// Package bustest is a conformance suite for transport.Bus implementations.
package bustest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/debugsession-go/transport"
)

// Publisher injects deliveries into the bus under test the way a backend
// would.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte) error
	PublishError(ctx context.Context, channel string, err *transport.RemoteError) error
}

// Factory creates a bus and a publisher wired to it. Channel names passed to
// the suite are unique per test so shared backends do not interfere.
type Factory func(t *testing.T) (transport.Bus, Publisher)

// RunBusTests runs the complete Bus test suite against the provided factory.
func RunBusTests(t *testing.T, factory Factory) {
	t.Run("Delivery_InPublishOrder", func(t *testing.T) { testDeliveryOrder(t, factory) })
	t.Run("Delivery_FanOutToAllSubscribers", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("Delivery_IsolationBetweenChannels", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("Delivery_RemoteErrors", func(t *testing.T) { testErrorDelivery(t, factory) })
	t.Run("Subscription_ChannelName", func(t *testing.T) { testChannelName(t, factory) })
	t.Run("Subscription_UnsubscribeStopsDelivery", func(t *testing.T) { testUnsubscribe(t, factory) })
}

type delivery struct {
	channel string
	data    []byte
	err     error
}

type collector struct {
	ch chan delivery
}

func newCollector() *collector { return &collector{ch: make(chan delivery, 256)} }

func (c *collector) HandleMessage(channel string, data []byte) {
	c.ch <- delivery{channel: channel, data: append([]byte(nil), data...)}
}

func (c *collector) HandleError(channel string, err error) {
	c.ch <- delivery{channel: channel, err: err}
}

func (c *collector) next(t *testing.T) delivery {
	t.Helper()
	select {
	case d := <-c.ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivery{}
	}
}

func (c *collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case d := <-c.ch:
		t.Fatalf("unexpected delivery on %s: data=%s err=%v", d.channel, d.data, d.err)
	case <-time.After(wait):
	}
}

var (
	seqMu sync.Mutex
	seq   int
)

func uniqueChannel(t *testing.T, name string) string {
	seqMu.Lock()
	defer seqMu.Unlock()
	seq++
	return fmt.Sprintf("bustest:%s:%d:%d", name, time.Now().UnixNano(), seq)
}

func subscribe(t *testing.T, bus transport.Bus, channel string, h transport.Handler) transport.Subscription {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := bus.Subscribe(ctx, channel, h)
	if err != nil {
		t.Fatalf("subscribe %s: %v", channel, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe(context.Background()) })
	return sub
}

func publish(t *testing.T, p Publisher, channel string, data string) {
	t.Helper()
	if err := p.Publish(context.Background(), channel, []byte(data)); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func testDeliveryOrder(t *testing.T, factory Factory) {
	bus, pub := factory(t)
	ch := uniqueChannel(t, "order")
	c := newCollector()
	subscribe(t, bus, ch, c)

	for i := 0; i < 20; i++ {
		publish(t, pub, ch, fmt.Sprintf(`{"n":%d}`, i))
	}
	for i := 0; i < 20; i++ {
		d := c.next(t)
		if d.err != nil {
			t.Fatalf("unexpected error delivery: %v", d.err)
		}
		if want := fmt.Sprintf(`{"n":%d}`, i); string(d.data) != want {
			t.Fatalf("delivery %d = %s, want %s", i, d.data, want)
		}
		if d.channel != ch {
			t.Fatalf("delivery channel = %q, want %q", d.channel, ch)
		}
	}
}

func testFanOut(t *testing.T, factory Factory) {
	bus, pub := factory(t)
	ch := uniqueChannel(t, "fanout")
	a, b := newCollector(), newCollector()
	subscribe(t, bus, ch, a)
	subscribe(t, bus, ch, b)

	publish(t, pub, ch, `"hello"`)
	for _, c := range []*collector{a, b} {
		if d := c.next(t); string(d.data) != `"hello"` {
			t.Fatalf("got %s", d.data)
		}
	}
}

func testIsolation(t *testing.T, factory Factory) {
	bus, pub := factory(t)
	chA, chB := uniqueChannel(t, "iso-a"), uniqueChannel(t, "iso-b")
	a, b := newCollector(), newCollector()
	subscribe(t, bus, chA, a)
	subscribe(t, bus, chB, b)

	publish(t, pub, chA, `1`)
	if d := a.next(t); string(d.data) != `1` {
		t.Fatalf("got %s", d.data)
	}
	b.expectNone(t, 200*time.Millisecond)
}

func testErrorDelivery(t *testing.T, factory Factory) {
	bus, pub := factory(t)
	ch := uniqueChannel(t, "errors")
	c := newCollector()
	subscribe(t, bus, ch, c)

	if err := pub.PublishError(context.Background(), ch, &transport.RemoteError{Code: transport.CodeInternal, Message: "Debugger session not found"}); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	d := c.next(t)
	var re *transport.RemoteError
	if !errors.As(d.err, &re) {
		t.Fatalf("expected RemoteError delivery, got data=%s err=%v", d.data, d.err)
	}
	if re.Code != transport.CodeInternal || re.Message != "Debugger session not found" {
		t.Fatalf("unexpected error %+v", re)
	}
	if !transport.IsNotFound(d.err) {
		t.Fatal("expected not-found classification")
	}
}

func testChannelName(t *testing.T, factory Factory) {
	bus, _ := factory(t)
	ch := uniqueChannel(t, "name")
	sub := subscribe(t, bus, ch, newCollector())
	if sub.Channel() != ch {
		t.Fatalf("Channel() = %q, want %q", sub.Channel(), ch)
	}
}

func testUnsubscribe(t *testing.T, factory Factory) {
	bus, pub := factory(t)
	ch := uniqueChannel(t, "unsub")
	c := newCollector()
	sub := subscribe(t, bus, ch, c)

	publish(t, pub, ch, `"before"`)
	if d := c.next(t); string(d.data) != `"before"` {
		t.Fatalf("got %s", d.data)
	}

	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(context.Background()); !errors.Is(err, transport.ErrNotSubscribed) {
		t.Fatalf("second unsubscribe = %v, want ErrNotSubscribed", err)
	}

	publish(t, pub, ch, `"after"`)
	c.expectNone(t, 200*time.Millisecond)
}
