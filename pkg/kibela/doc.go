// Package kibela implements the resilient GraphQL client the migration
// commands are built on.
//
// A Client owns its connection configuration (endpoint, credentials, wire
// format) and executes operations with bounded retry. Two failure kinds
// reach callers: *GraphQLError when the remote executed the request and
// reported application errors, and *NetworkError when no usable response
// was obtained after retries. Provider rate limiting ("budget exhausted")
// is absorbed by the retry loop using the remote-suggested wait.
//
// The adaptive pre-attempt delay is deliberately client-instance state, not
// per-call state: a budget-exhausted signal reflects a provider-side
// throttle that applies to unrelated subsequent calls too, so those calls
// slow down until a success resets the delay to the configured least delay.
// The delay field is mutex-guarded, so a Client is safe for concurrent use;
// concurrent callers share one throttle, which is the intended semantics.
//
// Retried mutations are not idempotent at this layer: a request may have
// been processed before its network failure manifested. Mutation inputs
// carry a clientMutationId so duplicates can be correlated afterwards.
package kibela
