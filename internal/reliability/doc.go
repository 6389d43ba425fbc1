// Package reliability provides retry policies and a circuit breaker used by
// the transport layer and the agent invoker. The workflow driver itself never
// retries a stage; these primitives serve broker reconnection, advance-task
// redelivery, and fast-failing calls to capabilities that keep timing out.
package reliability
