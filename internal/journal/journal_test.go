package journal

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// Integration tests that exercise a live PostgreSQL instance live behind the
// integration build tag. The tests here cover the pure parts: the retention
// statement set, family lock behavior and payload marshaling.

func TestPruneNeverTouchesOutcomesOrWeights(t *testing.T) {
	for _, stmt := range pruneStatements() {
		if stmt.family == FamilyOutcomes || stmt.family == FamilyWeightSnapshots {
			t.Fatalf("family %s must never be pruned", stmt.family)
		}
		if strings.Contains(stmt.query, "outcomes") || strings.Contains(stmt.query, "weight_snapshots") {
			t.Fatalf("prune statement for %s references a protected table: %s", stmt.family, stmt.query)
		}
	}
}

func TestPruneCoversAllOperationalFamilies(t *testing.T) {
	covered := make(map[Family]bool)
	for _, stmt := range pruneStatements() {
		covered[stmt.family] = true
	}

	for _, f := range Families() {
		protected := f == FamilyOutcomes || f == FamilyWeightSnapshots
		if protected && covered[f] {
			t.Errorf("protected family %s has a prune statement", f)
		}
		if !protected && !covered[f] {
			t.Errorf("operational family %s has no prune statement", f)
		}
	}
}

func TestPruneKeepsOpenPositions(t *testing.T) {
	for _, stmt := range pruneStatements() {
		if stmt.family != FamilyPositions {
			continue
		}
		if !strings.Contains(stmt.query, "status = 'closed'") {
			t.Fatalf("position prune must be restricted to closed rows: %s", stmt.query)
		}
		return
	}
	t.Fatal("no prune statement for positions")
}

func TestPruneRejectsZeroCutoff(t *testing.T) {
	r := NewRepository(nil)
	if _, err := r.Prune(nil, time.Time{}); err == nil {
		t.Fatal("expected error for zero cutoff")
	}
}

func TestRepositoryHasLockForEveryFamily(t *testing.T) {
	r := NewRepository(nil)
	for _, f := range Families() {
		if _, ok := r.locks[f]; !ok {
			t.Errorf("no append lock for family %s", f)
		}
	}
}

func TestFamilyLockSerializesAppends(t *testing.T) {
	r := NewRepository(nil)

	unlock := r.lock(FamilyDecisions)

	acquired := make(chan struct{})
	go func() {
		defer r.lock(FamilyDecisions)()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second append acquired the family lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second append never acquired the lock after release")
	}
}

func TestDifferentFamiliesDoNotBlockEachOther(t *testing.T) {
	r := NewRepository(nil)

	unlock := r.lock(FamilyDecisions)
	defer unlock()

	done := make(chan struct{})
	go func() {
		defer r.lock(FamilyOutcomes)()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("outcome append blocked on the decisions lock")
	}
}

func TestFamilyLocksUnderContention(t *testing.T) {
	r := NewRepository(nil)

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.lock(FamilyAgentLogs)()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
}

func TestMarshalOptional(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		out, err := marshalOptional(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != nil {
			t.Fatalf("expected nil, got %v", out)
		}
	})

	t.Run("raw message passes through", func(t *testing.T) {
		raw := json.RawMessage(`{"count":3}`)
		out, err := marshalOptional(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, ok := out.(json.RawMessage)
		if !ok || string(got) != `{"count":3}` {
			t.Fatalf("expected raw passthrough, got %v", out)
		}
	})

	t.Run("empty raw message becomes nil", func(t *testing.T) {
		out, err := marshalOptional(json.RawMessage(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != nil {
			t.Fatalf("expected nil for empty raw message, got %v", out)
		}
	})

	t.Run("structs are marshaled", func(t *testing.T) {
		out, err := marshalOptional(map[string]int{"cycles": 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, ok := out.(json.RawMessage)
		if !ok || string(got) != `{"cycles":2}` {
			t.Fatalf("unexpected marshal result: %v", out)
		}
	})
}

func TestRecordStateHelpers(t *testing.T) {
	pred := &PredictionRecord{}
	if pred.Evaluated() {
		t.Error("prediction without evaluated_at must not report evaluated")
	}
	now := time.Now()
	pred.EvaluatedAt = &now
	if !pred.Evaluated() {
		t.Error("prediction with evaluated_at must report evaluated")
	}

	pos := &PositionRecord{Status: PositionOpen}
	if !pos.IsOpen() {
		t.Error("open position must report open")
	}
	pos.Status = PositionClosed
	if pos.IsOpen() {
		t.Error("closed position must not report open")
	}
}

func TestConnectionStringFormat(t *testing.T) {
	cfg := Config{
		Host:     "localhost",
		Port:     5432,
		User:     "trader",
		Password: "secret",
		Database: "journal",
		SSLMode:  "disable",
	}
	got := cfg.ConnectionString()
	want := "host=localhost port=5432 user=trader password=secret dbname=journal sslmode=disable"
	if got != want {
		t.Fatalf("connection string mismatch:\n got: %s\nwant: %s", got, want)
	}
}
