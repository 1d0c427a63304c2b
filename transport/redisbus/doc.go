// Package redisbus carries debugger channels over Redis Pub/Sub. Payloads
// are transport.Envelope JSON so the backend can push both messages and
// errors on the same channel.
//
// Characteristics
//
//	Durability        : none (Pub/Sub is fire-and-forget)
//	Horizontal scale  : yes (any publisher reaches every subscriber)
//	Ordering          : per subscription, Redis delivery order
//	Concurrency       : safe
//
// Only channels are provided. Combine with a Caller via transport.Join.
package redisbus
