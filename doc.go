// Package auth provides the authentication session controller for server
// rendered views: credential login, signup, logout and restoration of a
// previously issued token into a verified user.
//
// Session lifecycle:
//   - LoadInitialProps runs during the server render. It pre-seeds the session
//     store with the request's authenticated profile and returns {user, token}
//     merged with the page's own initial props.
//   - NewController seeds a provisional user from those props, or from the
//     store. Mount then calls Update once with the render token.
//   - Update is a two-phase commit: Authenticate against the identity provider,
//     VerifyJWT on the token it returned, and only then write the user to the
//     store and mark the session verified. Any failure leaves the controller
//     anonymous and is never returned to the caller.
//
// Concurrency:
//   - Every Update and Logout bumps a generation counter. A verification that
//     finishes after a newer operation started is discarded, so a logout is
//     never undone by an in-flight verify.
//   - Stores implementing VersionedStore get a compare-and-set commit; when
//     another writer got there first, its value is adopted.
//
// Activity sinks:
//   - ActivitySink receives session events (seeded, verified, verification
//     failed, login, logout, signup). Sinks run best-effort; errors are logged.
//
// The identity subpackage provides an HTTP IdentityClient and a JWT verifier,
// store/bunstore a SQL backed VersionedStore.
package auth
