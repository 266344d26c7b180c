// Package authclient is the client side of the school portal login flow.
//
// Token handling:
//   - Codec decodes access tokens without verifying the signature. Claims are
//     advisory; install a TokenValidator (NewJWKSValidator) to check them
//     against the identity provider keys before a stored session is restored.
//   - TokenStore persists the access and refresh tokens under namespaced keys
//     of any Storage backend. Storage failures are logged and treated as
//     missing values so a broken backend never breaks the login flow.
//
// Service and Machine:
//   - Service speaks the identity provider REST protocol (login, register,
//     refresh, email verification, OAuth) and reports every failure through
//     OnError before returning it.
//   - Machine owns the authentication State. Actions go through the pure
//     Reduce function; listeners observe each transition. Concurrent refreshes
//     collapse into one request and results of superseded operations are
//     dropped.
//
// Activity sinks:
//   - ActivitySink receives login, refresh, verification and logout events.
//     Sinks run best-effort (errors are logged) so you can forward to metrics
//     or a queue without blocking authentication.
package authclient
