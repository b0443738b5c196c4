// Package auth is the authentication gate in front of the relay. A connection
// is only registered after its bearer token has been verified and, when a
// user directory is configured, its subject resolved to a known user.
package auth
