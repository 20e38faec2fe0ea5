// Package session owns the authenticated session: the access and refresh
// tokens, the signed-in user's profile and the hydration flag.
//
// State is the only writer of session data. Readers take snapshots; writers go
// through SetTokens, SetUser and Clear, which update memory synchronously and
// hand persistence to a single ordered background worker. Persistence failures
// are logged and never roll back or block the in-memory update.
//
// Until Hydrate has finished, an empty session does not mean "logged out".
// Consumers that need an authoritative answer call WaitHydrated first.
package session
