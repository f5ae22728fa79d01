package reconciler

import "calmerge/internal/models"

const (
	opAdd    = "add"
	opDelete = "delete"
)

// Result summarises one merge.
type Result struct {
	SourceEvents      int
	DestinationEvents int
	Candidates        int

	// ToAdd and ToRemove are the decisions taken from the fetched snapshot,
	// whether or not they were applied.
	ToAdd    []models.Event
	ToRemove []models.Event

	Added        int
	AddFailed    int
	Removed      int
	RemoveFailed int
	// Skipped counts changes never attempted because the merge was cancelled.
	Skipped int

	Failures []*models.ItemError

	// DeletesApplied is false when deletion was disabled or never reached.
	DeletesApplied bool
	DryRun         bool
}

// Failed reports whether any add or delete failed.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

type outcome struct {
	event     models.Event
	attempted bool
	err       error
}

func (r *Result) record(op string, outcomes []outcome) {
	for _, o := range outcomes {
		switch {
		case !o.attempted:
			r.Skipped++
		case o.err != nil:
			ie := &models.ItemError{Op: op, Summary: o.event.Summary, Err: o.err}
			if op == opDelete {
				ie.EventID = o.event.ID
				r.RemoveFailed++
			} else {
				r.AddFailed++
			}
			r.Failures = append(r.Failures, ie)
		case op == opDelete:
			r.Removed++
		default:
			r.Added++
		}
	}
}
