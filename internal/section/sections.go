package section

import "strings"

// Fetch type values of the exam section.
const (
	ExamFetchAll           = "all"
	ExamFetchWithResult    = "withResult"
	ExamFetchWithoutResult = "withoutResult"
)

// Fetch type values of the appointment section.
const (
	AppointmentFetchAll           = "all"
	AppointmentFetchConsultations = "consultations"
	AppointmentFetchExams         = "exams"
)

func dateFields() []FilterField {
	return []FilterField{
		{ID: FieldDateInitial, Kind: FieldDate, Server: true},
		{ID: FieldDateFinal, Kind: FieldDate, Server: true},
	}
}

// ConsultationsConfig is the consultation history section.
func ConsultationsConfig() Config {
	return Config{
		Key:  Consultations,
		Name: "Consultas",
		Fields: append(dateFields(),
			FilterField{ID: "keyword", Kind: FieldText, Fields: []string{"specialty", "professional", "unit", "details"}},
			FilterField{ID: "specialty", Kind: FieldText, Fields: []string{"specialty"}},
			FilterField{ID: "professional", Kind: FieldText, Fields: []string{"professional"}},
			FilterField{ID: "unit", Kind: FieldText, Fields: []string{"unit"}},
			FilterField{ID: "hideNoShow", Kind: FieldCheckbox, Default: "false", Fields: []string{"isNoShow"}, Excludes: true},
		),
		DateRange:   &MonthRange{Start: -6, End: 0},
		DefaultSort: SortState{Key: "date", Order: Desc},
		DateKeys:    map[string]string{"date": "sortableDate"},
	}
}

// ExamsConfig is the exam request section. The fetch type selects which
// exams the server returns through the comResultado/semResultado flags.
func ExamsConfig() Config {
	return Config{
		Key:  Exams,
		Name: "Exames",
		Fields: append(dateFields(),
			FilterField{ID: FieldFetchType, Kind: FieldSelect, Default: ExamFetchAll, Server: true},
			FilterField{ID: "name", Kind: FieldText, Fields: []string{"examName"}},
			FilterField{ID: "professional", Kind: FieldText, Fields: []string{"professional"}},
			FilterField{ID: "specialty", Kind: FieldText, Fields: []string{"specialty"}},
		),
		DateRange:   &MonthRange{Start: -6, End: 0},
		DefaultSort: SortState{Key: "date", Order: Desc},
		DateKeys:    map[string]string{"date": ""},
		FetchExtra:  examResultFlags,
	}
}

func examResultFlags(fetchType string) map[string]string {
	with, without := "true", "true"
	switch fetchType {
	case ExamFetchWithResult:
		without = "false"
	case ExamFetchWithoutResult:
		with = "false"
	}
	return map[string]string{"comResultado": with, "semResultado": without}
}

// AppointmentsConfig is the appointment section. The legacy endpoint
// returns consultation and exam appointments together; the fetch type
// separates them client-side.
func AppointmentsConfig() Config {
	return Config{
		Key:  Appointments,
		Name: "Agendamentos",
		Fields: append(dateFields(),
			FilterField{ID: FieldFetchType, Kind: FieldSelect, Default: AppointmentFetchAll},
			FilterField{ID: "term", Kind: FieldText, Fields: []string{"specialty", "description", "location", "professional"}},
			FilterField{ID: "professional", Kind: FieldText, Fields: []string{"professional"}},
			FilterField{ID: "location", Kind: FieldText, Fields: []string{"location"}},
			FilterField{ID: "status", Kind: FieldSelect, Default: "all", Fields: []string{"status"}},
		),
		DateRange:   &MonthRange{Start: -1, End: 3},
		DefaultSort: SortState{Key: "date", Order: Desc},
		DateKeys:    map[string]string{"date": ""},
		FetchTypeFilter: func(r Record, fetchType string) bool {
			switch fetchType {
			case AppointmentFetchConsultations:
				return strings.EqualFold(r.Text("type"), "CONSULTA")
			case AppointmentFetchExams:
				return strings.EqualFold(r.Text("type"), "EXAME")
			}
			return true
		},
	}
}

// RegulationsConfig is the regulation request section.
func RegulationsConfig() Config {
	return Config{
		Key:  Regulations,
		Name: "Regulações",
		Fields: append(dateFields(),
			FilterField{ID: "procedure", Kind: FieldText, Fields: []string{"procedure", "cid"}},
			FilterField{ID: "requester", Kind: FieldText, Fields: []string{"requester"}},
			FilterField{ID: "provider", Kind: FieldText, Fields: []string{"provider"}},
			FilterField{ID: "status", Kind: FieldSelect, Default: "all", Fields: []string{"status"}},
			FilterField{ID: "priority", Kind: FieldSelect, Default: "all", Fields: []string{"priority"}},
		),
		DateRange:   &MonthRange{Start: -12, End: 0},
		DefaultSort: SortState{Key: "date", Order: Desc},
		DateKeys:    map[string]string{"date": ""},
	}
}

// DocumentsConfig is the patient document section. The endpoint takes no
// date range.
func DocumentsConfig() Config {
	return Config{
		Key:  Documents,
		Name: "Documentos",
		Fields: []FilterField{
			{ID: "description", Kind: FieldText, Fields: []string{"description", "fileType"}},
		},
		DefaultSort: SortState{Key: "date", Order: Desc},
		DateKeys:    map[string]string{"date": ""},
	}
}

// DefaultConfigs returns every section in display order.
func DefaultConfigs() []Config {
	return []Config{
		ConsultationsConfig(),
		ExamsConfig(),
		AppointmentsConfig(),
		RegulationsConfig(),
		DocumentsConfig(),
	}
}
