// Package session owns client transport settings shared by both wire
// variants: dial and write timeouts, reconnect backoff, and TLS.
package session
