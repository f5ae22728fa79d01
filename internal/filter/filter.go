// Package filter turns raw source events into merge candidates.
//
// The pipeline drops events that cannot be matched (no summary, start or
// end), drops events matching any exclusion pattern, strips the organizer and
// creator that belong to the source account, and optionally redacts what is
// left. Next to every candidate it keeps the pre-redaction identity fields so
// the matcher can recognise destination events written by earlier runs in
// either form.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"calmerge/internal/models"
)

// DefaultCensorName is the summary given to redacted events when none is configured.
const DefaultCensorName = "Busy"

// Options controls the pipeline.
type Options struct {
	ExcludePatterns   []string
	Censor            bool
	CensorName        string
	CensorDescription string
}

// Candidates holds filtered events together with their pre-redaction
// identity copies. Events[i] and Originals[i] always describe the same source event.
type Candidates struct {
	Events    []models.Event
	Originals []models.Event
}

// Len returns the number of candidates.
func (c Candidates) Len() int { return len(c.Events) }

// Pipeline applies validity, exclusion, provenance and redaction steps.
type Pipeline struct {
	exclude *regexp.Regexp
	opts    Options
}

// New compiles the exclusion patterns and returns a ready Pipeline.
// A pattern that fails to compile is reported as a *models.ConfigurationError.
func New(opts Options) (*Pipeline, error) {
	if opts.Censor && opts.CensorName == "" {
		return nil, models.NewConfigurationError("censor name must not be empty when censoring")
	}

	exclude, err := CompileExclusions(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	return &Pipeline{exclude: exclude, opts: opts}, nil
}

// CompileExclusions combines patterns into one case-insensitive expression
// anchored at the start of the text. Blank patterns are ignored and an empty
// set yields nil, which excludes nothing.
func CompileExclusions(patterns []string) (*regexp.Regexp, error) {
	var parts []string
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			return nil, models.NewConfigurationError(fmt.Sprintf("exclude pattern %q: %v", p, err))
		}
		parts = append(parts, "(?:"+p+")")
	}
	if len(parts) == 0 {
		return nil, nil
	}

	re, err := regexp.Compile(`(?i)^(?:` + strings.Join(parts, "|") + `)`)
	if err != nil {
		return nil, models.NewConfigurationError(fmt.Sprintf("exclude patterns: %v", err))
	}
	return re, nil
}

// Apply runs the pipeline over events. The input slice and its events are left untouched.
func (p *Pipeline) Apply(events []models.Event) Candidates {
	out := Candidates{
		Events:    make([]models.Event, 0, len(events)),
		Originals: make([]models.Event, 0, len(events)),
	}

	for _, e := range events {
		if !e.Valid() || p.Excluded(e) {
			continue
		}

		// Store identities belong to the source calendar. Each copy gets a
		// fresh UID from the destination store, so imports never update an
		// earlier copy in place.
		candidate := e.Clone()
		candidate.ID = ""
		candidate.UID = ""
		candidate.Organizer = nil
		candidate.Creator = nil

		original := models.Event{Summary: e.Summary, Start: e.Start, End: e.End}

		if p.opts.Censor {
			candidate.Summary = p.opts.CensorName
			candidate.Description = p.opts.CensorDescription
			candidate.Location = ""
		}

		out.Events = append(out.Events, candidate)
		out.Originals = append(out.Originals, original)
	}
	return out
}

// Excluded reports whether e's summary or description matches an exclusion pattern.
func (p *Pipeline) Excluded(e models.Event) bool {
	if p.exclude == nil {
		return false
	}
	return p.exclude.MatchString(e.Summary) || p.exclude.MatchString(e.Description)
}
