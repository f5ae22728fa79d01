// Package icloud implements the calendar event store over CalDAV. It targets
// iCloud by default but works with any CalDAV server given its endpoint.
package icloud
