// Package breaker provides per-dependency circuit breakers.
//
// A Registry hands out one Breaker per sanitized dependency key (an embedding
// model or provider name). Each breaker tracks the outcomes of its most recent
// calls and moves between three states:
//
//   - CLOSED: calls pass through. Once MinimumCalls outcomes are recorded and the
//     failure rate over the window exceeds FailureRateThreshold, the breaker opens.
//   - OPEN: calls fail fast with an *OpenError that carries a retry-after hint.
//     After WaitDurationInOpen the breaker becomes HALF_OPEN.
//   - HALF_OPEN: up to PermittedCallsInHalfOpen probe calls are admitted. Any
//     probe failure reopens the breaker; once every admitted probe has
//     succeeded the breaker closes with an empty window.
//
// Breaker state is local to the process.
package breaker
