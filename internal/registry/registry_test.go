package registry

import "testing"

func TestAddGetRemove(t *testing.T) {
	r := New()
	e := &Entry{ID: "abc1234567", Name: "api", State: StateRunning}
	r.Add(e)

	if got, ok := r.GetByID("abc1234567"); !ok || got != e {
		t.Fatalf("GetByID: got %v, %v", got, ok)
	}
	if got, ok := r.GetByName("api"); !ok || got != e {
		t.Fatalf("GetByName: got %v, %v", got, ok)
	}
	if got, ok := r.Resolve("api"); !ok || got != e {
		t.Fatalf("Resolve by name: got %v, %v", got, ok)
	}

	r.Remove("abc1234567")
	if _, ok := r.GetByID("abc1234567"); ok {
		t.Fatal("expected entry removed by id")
	}
	if _, ok := r.GetByName("api"); ok {
		t.Fatal("expected entry removed from name index")
	}
}

func TestNameLiveOnlyBindsNonStopped(t *testing.T) {
	r := New()
	r.Add(&Entry{ID: "id0000001", Name: "worker", State: StateStopped})
	if r.NameLive("worker") {
		t.Fatal("a stopped entry must not count as name-live")
	}
	r.Add(&Entry{ID: "id0000002", Name: "worker2", State: StateRunning})
	if !r.NameLive("worker2") {
		t.Fatal("a running entry must count as name-live")
	}
}

func TestGenerateIDLengthAndUniqueness(t *testing.T) {
	r := New()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := r.GenerateID()
		if err != nil {
			t.Fatalf("GenerateID: %v", err)
		}
		if len(id) != 10 {
			t.Fatalf("expected 10-char id, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		r.Add(&Entry{ID: id, Name: id})
	}
}

func TestListSortedByName(t *testing.T) {
	r := New()
	r.Add(&Entry{ID: "1", Name: "zeta"})
	r.Add(&Entry{ID: "2", Name: "alpha"})
	r.Add(&Entry{ID: "3", Name: "mu"})
	list := r.List()
	if len(list) != 3 || list[0].Name != "alpha" || list[1].Name != "mu" || list[2].Name != "zeta" {
		t.Fatalf("unexpected order: %+v", list)
	}
}
