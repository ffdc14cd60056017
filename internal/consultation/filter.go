package consultation

import (
	"fmt"
	"strings"

	"github.com/xaenox/cara/internal/models"
)

type StatusFilter string

const (
	FilterAll       StatusFilter = "all"
	FilterActive    StatusFilter = StatusFilter(models.StatusActive)
	FilterCompleted StatusFilter = StatusFilter(models.StatusCompleted)
	FilterPending   StatusFilter = StatusFilter(models.StatusPending)
)

// ParseStatusFilter accepts all, active, completed and pending. An empty
// string means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterActive, FilterCompleted, FilterPending:
		return f, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Counts aggregates statuses over a full consultation set.
type Counts struct {
	Total     int
	Active    int
	Completed int
	Pending   int
}

// Filter returns the consultations whose topic or description contains
// search (case-insensitive) and whose effective status matches status.
// It never mutates items.
func Filter(items []models.Consultation, search string, status StatusFilter) []models.Consultation {
	q := strings.ToLower(search)
	out := make([]models.Consultation, 0, len(items))
	for _, c := range items {
		if matchesSearch(c, q) && matchesStatus(c, status) {
			out = append(out, c)
		}
	}
	return out
}

func matchesSearch(c models.Consultation, q string) bool {
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Topic), q) ||
		strings.Contains(strings.ToLower(c.Description), q)
}

func matchesStatus(c models.Consultation, status StatusFilter) bool {
	if status == "" || status == FilterAll {
		return true
	}
	return c.EffectiveStatus() == models.ConsultationStatus(status)
}

func CountStatuses(items []models.Consultation) Counts {
	counts := Counts{Total: len(items)}
	for _, c := range items {
		switch c.EffectiveStatus() {
		case models.StatusActive:
			counts.Active++
		case models.StatusCompleted:
			counts.Completed++
		case models.StatusPending:
			counts.Pending++
		}
	}
	return counts
}
