// Package memorybus provides an in-process transport for tests, development
// and embedding a debugger backend in the same binary. It pairs a method
// Router, which answers calls from registered handlers, with a fan-out Bus
// for channel messages.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Ordering          : per subscription, publish order
//	Delivery          : asynchronous, one goroutine per subscription
//	Concurrency       : safe
//
// Example:
//
//	tr := memorybus.New()
//	tr.Handle("debugger/connect", func(ctx context.Context, params json.RawMessage) (any, error) {
//		return map[string]string{"id": "s1"}, nil
//	})
//	sess := debugger.New(tr)
package memorybus
