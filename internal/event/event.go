package event

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field limits applied during sanitization.
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

// CategoryGeneral is the fallback category for events that do not name one.
const CategoryGeneral = "general"

// categories is the closed set of valid event categories.
var categories = []string{"work", "personal", "health", "education", "social", "travel", CategoryGeneral}

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
	wsRe   = regexp.MustCompile(`\s+`)
)

// Event is a single calendar occurrence keyed to one date, with optional
// start/end times. Times are kept as zero-padded "HH:MM" strings so that
// lexicographic comparison matches chronological order.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"` // YYYY-MM-DD
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Category    string `json:"category"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// New builds an Event from raw field values: it generates an ID if absent,
// sanitizes title and description, defaults the category and stamps
// createdAt/updatedAt. It never fails; invalid values are carried as-is and
// surfaced by Validate.
func New(raw Event) *Event {
	e := raw
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Title = Sanitize(e.Title, MaxTitleLen)
	e.Description = Sanitize(e.Description, MaxDescriptionLen)
	if !ValidCategory(e.Category) {
		e.Category = CategoryGeneral
	}
	now := Now()
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	if e.UpdatedAt == "" {
		e.UpdatedAt = now
	}
	return &e
}

// Patch is a partial update. Nil fields are left untouched; ID and CreatedAt
// are not updatable at all.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Date        *string `json:"date,omitempty"`
	StartTime   *string `json:"startTime,omitempty"`
	EndTime     *string `json:"endTime,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Apply overwrites the fields named by p and refreshes UpdatedAt. It does not
// validate; callers re-validate the event afterwards.
func (e *Event) Apply(p Patch) {
	if p.Title != nil {
		e.Title = Sanitize(*p.Title, MaxTitleLen)
	}
	if p.Description != nil {
		e.Description = Sanitize(*p.Description, MaxDescriptionLen)
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.Category != nil {
		if ValidCategory(*p.Category) {
			e.Category = *p.Category
		} else {
			e.Category = CategoryGeneral
		}
	}
	e.UpdatedAt = Now()
}

// Validate checks every field rule and returns all violations, not just the
// first one, so the caller can report them together.
func (e *Event) Validate() []string {
	var errs []string
	if strings.TrimSpace(e.Title) == "" {
		errs = append(errs, "Event title is required")
	}
	if !dateRe.MatchString(e.Date) || !realDate(e.Date) {
		errs = append(errs, "Valid event date is required")
	}
	if e.StartTime != "" && !timeRe.MatchString(e.StartTime) {
		errs = append(errs, "Invalid start time format")
	}
	if e.EndTime != "" && !timeRe.MatchString(e.EndTime) {
		errs = append(errs, "Invalid end time format")
	}
	if e.StartTime != "" && e.EndTime != "" && e.StartTime >= e.EndTime {
		errs = append(errs, "End time must be after start time")
	}
	return errs
}

// Clone returns an independent copy, used by the store for transactional
// updates.
func (e *Event) Clone() *Event {
	c := *e
	return &c
}

// IsAllDay reports whether the event has neither a start nor an end time.
func (e *Event) IsAllDay() bool {
	return e.StartTime == "" && e.EndTime == ""
}

// DisplayTime renders the time span for list views: "09:00 - 10:30", a bare
// start time, or "" for all-day events.
func (e *Event) DisplayTime() string {
	switch {
	case e.StartTime != "" && e.EndTime != "":
		return e.StartTime + " - " + e.EndTime
	case e.StartTime != "":
		return e.StartTime
	default:
		return ""
	}
}

// Sanitize trims, collapses internal whitespace, strips angle brackets and
// truncates to max runes.
func Sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	s = wsRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	if r := []rune(s); len(r) > max {
		s = string(r[:max])
	}
	return s
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c string) bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// Categories returns the closed category set in display order.
func Categories() []string {
	out := make([]string, len(categories))
	copy(out, categories)
	return out
}

// Now returns the current time as an RFC 3339 UTC string, the timestamp
// format used for createdAt/updatedAt and storage envelopes.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func realDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
