package patient

import "testing"

func TestSameIdentity(t *testing.T) {
	a := &Patient{ID: "123", FullPK: "abc", Name: "Maria"}
	b := &Patient{ID: "123", FullPK: "abc", Name: "Maria S."}
	c := &Patient{ID: "124", FullPK: "abc"}

	if !SameIdentity(a, b) {
		t.Error("display fields should not affect identity")
	}
	if SameIdentity(a, c) {
		t.Error("different IDs are different patients")
	}
	if !SameIdentity(nil, nil) {
		t.Error("nil equals nil")
	}
	if SameIdentity(a, nil) || SameIdentity(nil, a) {
		t.Error("nil never equals a patient")
	}
}

func TestState_NotifiesOnIdentityChange(t *testing.T) {
	s := NewState()
	var seen []*Patient
	s.Subscribe(func(p *Patient) { seen = append(seen, p) })

	if !s.Set(&Patient{ID: "1", FullPK: "x"}) {
		t.Error("first patient should change identity")
	}
	if s.Set(&Patient{ID: "1", FullPK: "x", Name: "renamed"}) {
		t.Error("same identity should not notify")
	}
	if got := s.Current(); got == nil || got.Name != "renamed" {
		t.Errorf("current patient not refreshed: %+v", got)
	}
	s.Set(&Patient{ID: "2", FullPK: "y"})
	s.Clear()

	if len(seen) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(seen))
	}
	if seen[0].ID != "1" || seen[1].ID != "2" || seen[2] != nil {
		t.Errorf("unexpected notifications %+v", seen)
	}
}

func TestState_Unsubscribe(t *testing.T) {
	s := NewState()
	calls := 0
	unsubscribe := s.Subscribe(func(*Patient) { calls++ })
	s.Set(&Patient{ID: "1"})
	unsubscribe()
	unsubscribe()
	s.Set(&Patient{ID: "2"})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestState_CurrentIsCopy(t *testing.T) {
	s := NewState()
	s.Set(&Patient{ID: "1", Name: "Ana"})
	p := s.Current()
	p.Name = "changed"
	if s.Current().Name != "Ana" {
		t.Error("Current should return a copy")
	}
}
