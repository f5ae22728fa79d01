// Package reconciler merges one or more source calendars into a destination
// calendar.
//
// A merge fetches every source and the destination from an EventStore,
// filters and optionally redacts the source events, matches them against the
// destination, then imports the missing events and (optionally) deletes the
// destination events that no longer have a source. Adds and deletes are
// best-effort: a failing event is recorded in the Result and the rest of the
// batch continues.
//
// Example usage:
//
//	r, err := reconciler.New(store, logger, reconciler.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	res, err := r.Reconcile(ctx, []string{"work@example.com"}, "merged@example.com")
package reconciler
