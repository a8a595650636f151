package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasantoro97/postino/internal/model"
)

const (
	defaultEventDuration = 60 * time.Minute
	maxEventDuration     = 8 * time.Hour
	maxEventDaysAhead    = 365
	maxEventDaysPast     = 7
	maxEvidenceLines     = 10
)

// candidate timestamps arrive in whatever shape the extractor produced;
// these layouts cover the ISO variants the prompt asks for.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			if layout == time.RFC3339 {
				return t.In(loc), nil
			}
			// Layouts without an offset are interpreted in the event zone.
			return time.ParseInLocation(layout, value, loc)
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// resolveLocation resolves an IANA zone hint, falling back to the default
// zone for invalid hints such as bare abbreviations.
func resolveLocation(hint string, fallback *time.Location) *time.Location {
	if hint == "" {
		return fallback
	}
	loc, err := time.LoadLocation(hint)
	if err != nil {
		return fallback
	}
	return loc
}

// ValidateEvent applies business rules to an extracted candidate. The
// returned reason identifies the rejection when ok is false.
func ValidateEvent(candidate model.EventCandidate, defaultLoc *time.Location, now time.Time) (model.ValidatedEvent, string, bool) {
	loc := resolveLocation(candidate.Timezone, defaultLoc)

	if strings.TrimSpace(candidate.Summary) == "" {
		return model.ValidatedEvent{}, "empty-summary", false
	}

	start, err := parseTimestamp(candidate.Start, loc)
	if err != nil {
		return model.ValidatedEvent{}, "unparseable-start", false
	}

	var end time.Time
	if candidate.End != "" {
		end, err = parseTimestamp(candidate.End, loc)
		if err != nil {
			return model.ValidatedEvent{}, "unparseable-end", false
		}
	} else {
		duration := defaultEventDuration
		if candidate.DurationMinutes > 0 {
			duration = time.Duration(candidate.DurationMinutes) * time.Minute
		}
		end = start.Add(duration)
	}

	if !end.After(start) {
		return model.ValidatedEvent{}, "end-before-start", false
	}
	if end.Sub(start) > maxEventDuration {
		return model.ValidatedEvent{}, "duration-out-of-bounds", false
	}

	startUTC := start.UTC()
	nowUTC := now.UTC()
	if startUTC.Before(nowUTC.AddDate(0, 0, -maxEventDaysPast)) {
		return model.ValidatedEvent{}, "too-far-in-past", false
	}
	if startUTC.After(nowUTC.AddDate(0, 0, maxEventDaysAhead)) {
		return model.ValidatedEvent{}, "too-far-in-future", false
	}

	var descriptionLines []string
	if len(candidate.Evidence) > 0 {
		descriptionLines = append(descriptionLines, "Evidence:")
		evidence := candidate.Evidence
		if len(evidence) > maxEvidenceLines {
			evidence = evidence[:maxEvidenceLines]
		}
		for _, e := range evidence {
			descriptionLines = append(descriptionLines, "- "+e)
		}
	}

	return model.ValidatedEvent{
		Summary:     strings.TrimSpace(candidate.Summary),
		StartISO:    start.Format(time.RFC3339),
		EndISO:      end.Format(time.RFC3339),
		Timezone:    loc.String(),
		Location:    candidate.Location,
		Description: strings.TrimSpace(strings.Join(descriptionLines, "\n")),
	}, "", true
}
