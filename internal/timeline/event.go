// Package timeline merges the five patient history sources into one
// chronological event stream and filters it for display.
package timeline

import (
	"time"

	"github.com/ehr/history/internal/section"
)

// EventType is the source category of an event.
type EventType string

const (
	TypeConsultation EventType = "consultation"
	TypeExam         EventType = "exam"
	TypeAppointment  EventType = "appointment"
	TypeRegulation   EventType = "regulation"
	TypeDocument     EventType = "document"
)

// Types lists every event type in display order.
var Types = []EventType{TypeConsultation, TypeExam, TypeAppointment, TypeRegulation, TypeDocument}

// SectionKey returns the section whose records produce events of type t.
func (t EventType) SectionKey() string {
	switch t {
	case TypeConsultation:
		return section.Consultations
	case TypeExam:
		return section.Exams
	case TypeAppointment:
		return section.Appointments
	case TypeRegulation:
		return section.Regulations
	case TypeDocument:
		return section.Documents
	}
	return ""
}

// Detail is one labelled line shown under an event.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Event is a normalised history entry.
type Event struct {
	Type EventType `json:"type"`
	// Date is the displayed date, nil when it cannot be parsed.
	Date *time.Time `json:"date,omitempty"`
	// SortableDate orders the timeline. Events without one are dropped.
	SortableDate time.Time      `json:"sortableDate"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary,omitempty"`
	Details      section.Record `json:"details"`
	SubDetails   []Detail       `json:"subDetails,omitempty"`
	// SearchText is lower-cased and accent-stripped.
	SearchText string `json:"-"`
}

// Sources holds the raw records of every category as returned by the
// legacy server.
type Sources struct {
	Consultations []section.Record
	Exams         []section.Record
	Appointments  []section.Record
	Regulations   []section.Record
	Documents     []section.Record
}

// Of returns the records of category t.
func (s Sources) Of(t EventType) []section.Record {
	switch t {
	case TypeConsultation:
		return s.Consultations
	case TypeExam:
		return s.Exams
	case TypeAppointment:
		return s.Appointments
	case TypeRegulation:
		return s.Regulations
	case TypeDocument:
		return s.Documents
	}
	return nil
}

// Set replaces the records of category t.
func (s *Sources) Set(t EventType, records []section.Record) {
	switch t {
	case TypeConsultation:
		s.Consultations = records
	case TypeExam:
		s.Exams = records
	case TypeAppointment:
		s.Appointments = records
	case TypeRegulation:
		s.Regulations = records
	case TypeDocument:
		s.Documents = records
	}
}
