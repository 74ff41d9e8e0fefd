package section

import (
	"reflect"
	"testing"
)

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text("id")
	}
	return out
}

func TestSortData_DatesDescending(t *testing.T) {
	cfg := ExamsConfig()
	data := []Record{
		{"id": "a", "date": "10/01/2024"},
		{"id": "b", "date": "05/03/2024"},
		{"id": "c", "date": "sem data"},
		{"id": "d", "date": "2023-12-31"},
	}
	got := ids(SortData(cfg, data, SortState{Key: "date", Order: Desc}))
	want := []string{"b", "a", "d", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	got = ids(SortData(cfg, data, SortState{Key: "date", Order: Asc}))
	want = []string{"c", "d", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("asc: got %v, want %v", got, want)
	}
}

func TestSortData_PrefersSortableDate(t *testing.T) {
	cfg := ConsultationsConfig()
	data := []Record{
		{"id": "morning", "date": "10/01/2024", "sortableDate": "2024-01-10T08:00:00"},
		{"id": "evening", "date": "10/01/2024", "sortableDate": "2024-01-10T18:00:00"},
		{"id": "fallback", "date": "09/01/2024"},
	}
	got := ids(SortData(cfg, data, SortState{Key: "date", Order: Desc}))
	want := []string{"evening", "morning", "fallback"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSortData_StableText(t *testing.T) {
	cfg := RegulationsConfig()
	data := []Record{
		{"id": "1", "status": "pendente"},
		{"id": "2", "status": "AUTORIZADO"},
		{"id": "3", "status": "Pendente"},
		{"id": "4", "status": "autorizado"},
	}
	asc := SortState{Key: "status", Order: Asc}
	once := SortData(cfg, data, asc)
	want := []string{"2", "4", "1", "3"}
	if !reflect.DeepEqual(ids(once), want) {
		t.Fatalf("got %v, want %v", ids(once), want)
	}
	twice := SortData(cfg, once, asc)
	if !reflect.DeepEqual(ids(once), ids(twice)) {
		t.Errorf("sorting twice changed order: %v vs %v", ids(once), ids(twice))
	}

	desc := SortData(cfg, data, SortState{Key: "status", Order: Desc})
	if !reflect.DeepEqual(ids(desc), []string{"1", "3", "2", "4"}) {
		t.Errorf("desc should keep ties in input order, got %v", ids(desc))
	}
	back := SortData(cfg, desc, asc)
	if !reflect.DeepEqual(ids(back), want) {
		t.Errorf("toggling back should restore order, got %v", ids(back))
	}
}

func TestSortData_DoesNotMutateInput(t *testing.T) {
	cfg := ExamsConfig()
	data := []Record{{"id": "a", "date": "01/01/2020"}, {"id": "b", "date": "01/01/2024"}}
	SortData(cfg, data, SortState{Key: "date", Order: Desc})
	if data[0].Text("id") != "a" {
		t.Error("input was reordered")
	}
}

func TestSortState_Toggle(t *testing.T) {
	s := SortState{Key: "date", Order: Desc}
	s = s.Toggle("date")
	if s.Order != Asc {
		t.Errorf("same key should flip to asc, got %v", s)
	}
	s = s.Toggle("date")
	if s.Order != Desc {
		t.Errorf("same key should flip back to desc, got %v", s)
	}
	s = SortState{Key: "date", Order: Asc}.Toggle("specialty")
	if s.Key != "specialty" || s.Order != Desc {
		t.Errorf("new key should start descending, got %v", s)
	}
}
