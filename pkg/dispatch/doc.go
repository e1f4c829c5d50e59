// Package dispatch provides an in-process delivery layer for process-manager
// subscriptions.
//
// A Dispatcher accepts subscriptions (typically built with the root package's
// binder), filters incoming events by type, and serializes delivery per
// partition key so that all events for one process-manager instance are
// handled strictly in order. Different partitions run in parallel.
//
// The dispatcher is intended for tests, local development, and small
// single-process deployments. Production systems usually replace it with an
// external event bus that provides the same partitioned-ordering contract.
package dispatch
