// Package google implements the calendar event store on top of the Google
// Calendar API. Clients authenticate either with a service account key or
// with per-account OAuth tokens created by the auth command.
package google
