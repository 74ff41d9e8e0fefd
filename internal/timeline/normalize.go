package timeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/platform/dateutil"
	"github.com/ehr/history/internal/platform/telemetry"
	"github.com/ehr/history/internal/platform/textnorm"
	"github.com/ehr/history/internal/section"
)

// converter turns one record into an event. It reports false when the
// record has no primary date.
type converter func(r section.Record) (Event, bool)

// Normalizer converts raw source records into timeline events.
type Normalizer struct {
	log        zerolog.Logger
	metrics    *telemetry.Metrics
	converters map[EventType]converter
}

// NewNormalizer returns a Normalizer. metrics may be nil.
func NewNormalizer(logger zerolog.Logger, metrics *telemetry.Metrics) *Normalizer {
	return &Normalizer{
		log:     logger,
		metrics: metrics,
		converters: map[EventType]converter{
			TypeConsultation: consultationEvent,
			TypeExam:         examEvent,
			TypeAppointment:  appointmentEvent,
			TypeRegulation:   regulationEvent,
			TypeDocument:     documentEvent,
		},
	}
}

// Normalize converts every category and returns the events with a valid
// sortable date, most recent first. A category that fails to convert
// contributes nothing; the others are unaffected.
func (n *Normalizer) Normalize(src Sources) []Event {
	var out []Event
	for _, t := range Types {
		events := n.convertCategory(t, src.Of(t))
		n.metrics.EventsNormalized(string(t), len(events))
		out = append(out, events...)
	}

	valid := out[:0]
	for _, e := range out {
		if !e.SortableDate.IsZero() {
			valid = append(valid, e)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].SortableDate.After(valid[j].SortableDate)
	})
	return valid
}

func (n *Normalizer) convertCategory(t EventType, records []section.Record) (events []Event) {
	conv, ok := n.converters[t]
	if !ok || len(records) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			n.log.Error().Str("source", string(t)).Str("panic", fmt.Sprint(r)).Msg("normalising source failed, skipping category")
			n.metrics.SourceFailed(string(t), "normalize")
			events = nil
		}
	}()
	for _, r := range records {
		if r == nil {
			continue
		}
		e, ok := conv(r)
		if !ok {
			continue
		}
		events = append(events, e)
	}
	return events
}

// base fills the fields every event type shares. The sortable date comes
// from sortableKey when it parses, else from the primary date.
func base(t EventType, r section.Record, sortableKey string) (Event, bool) {
	raw := strings.TrimSpace(r.Text("date"))
	if raw == "" {
		return Event{}, false
	}
	e := Event{Type: t, Details: r}
	if d, ok := dateutil.ParseDate(raw); ok {
		e.Date = &d
		e.SortableDate = d
	}
	if sortableKey != "" {
		if d, ok := dateutil.ParseSortable(r.Text(sortableKey)); ok {
			e.SortableDate = d
		}
	}
	return e, true
}

func details(pairs ...string) []Detail {
	var out []Detail
	for i := 0; i+1 < len(pairs); i += 2 {
		if v := strings.TrimSpace(pairs[i+1]); v != "" {
			out = append(out, Detail{Label: pairs[i], Value: v})
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}

func consultationEvent(r section.Record) (Event, bool) {
	e, ok := base(TypeConsultation, r, "sortableDate")
	if !ok {
		return e, false
	}
	e.Title = firstNonEmpty(r.Text("specialty"), "Consulta")
	e.Summary = joinNonEmpty(" - ", r.Text("professional"), r.Text("unit"))
	if r.Truthy("isNoShow") {
		e.Summary = joinNonEmpty(" - ", e.Summary, "Falta")
	}

	var values []string
	if list, ok := r["details"].([]interface{}); ok {
		for _, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			d := section.Record(m)
			if v := strings.TrimSpace(d.Text("value")); v != "" {
				e.SubDetails = append(e.SubDetails, Detail{Label: d.Text("label"), Value: v})
				values = append(values, v)
			}
		}
	}
	parts := append([]string{r.Text("specialty"), r.Text("professional"), r.Text("unit")}, values...)
	e.SearchText = textnorm.Join(parts...)
	return e, true
}

func examEvent(r section.Record) (Event, bool) {
	e, ok := base(TypeExam, r, "")
	if !ok {
		return e, false
	}
	e.Title = firstNonEmpty(r.Text("examName"), "Exame")
	e.Summary = joinNonEmpty(" - ", r.Text("professional"), r.Text("specialty"))
	result := "Sem resultado"
	if r.Truthy("hasResult") {
		result = "Com resultado"
	}
	e.SubDetails = details(
		"Profissional", r.Text("professional"),
		"Especialidade", r.Text("specialty"),
		"Resultado", result,
	)
	e.SearchText = textnorm.Join(r.Text("examName"), r.Text("professional"), r.Text("specialty"))
	return e, true
}

func appointmentEvent(r section.Record) (Event, bool) {
	e, ok := base(TypeAppointment, r, "")
	if !ok {
		return e, false
	}
	e.Title = firstNonEmpty(r.Text("specialty"), r.Text("description"), "Agendamento")
	e.Summary = joinNonEmpty(" - ", r.Text("location"), r.Text("status"))
	e.SubDetails = details(
		"Tipo", r.Text("type"),
		"Horário", r.Text("time"),
		"Local", r.Text("location"),
		"Profissional", r.Text("professional"),
		"Status", r.Text("status"),
	)
	e.SearchText = textnorm.Join(r.Text("specialty"), r.Text("description"), r.Text("location"), r.Text("professional"))
	return e, true
}

func regulationEvent(r section.Record) (Event, bool) {
	e, ok := base(TypeRegulation, r, "")
	if !ok {
		return e, false
	}
	e.Title = firstNonEmpty(r.Text("procedure"), "Regulação")
	e.Summary = joinNonEmpty(" - ", r.Text("status"), r.Text("priority"))
	e.SubDetails = details(
		"CID", r.Text("cid"),
		"Solicitante", r.Text("requester"),
		"Executante", r.Text("provider"),
		"Status", r.Text("status"),
		"Prioridade", r.Text("priority"),
	)
	e.SearchText = textnorm.Join(r.Text("procedure"), r.Text("requester"), r.Text("provider"), r.Text("cid"))
	return e, true
}

func documentEvent(r section.Record) (Event, bool) {
	e, ok := base(TypeDocument, r, "")
	if !ok {
		return e, false
	}
	e.Title = firstNonEmpty(r.Text("description"), "Documento")
	e.Summary = strings.ToUpper(strings.TrimSpace(r.Text("fileType")))
	e.SubDetails = details("Tipo de arquivo", r.Text("fileType"))
	e.SearchText = textnorm.Join(r.Text("description"))
	return e, true
}
