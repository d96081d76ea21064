package aggregate

import (
	"testing"

	"pagedb/internal/value"
)

func runAgg(t *testing.T, fn Function, values []int64) value.Value {
	t.Helper()
	state := make([]byte, fn.StateSize())
	fn.Create(state)
	for _, v := range values {
		if err := fn.Add(state, value.Row{value.Int64(v)}); err != nil {
			t.Fatalf("Add(%d): %v", v, err)
		}
	}
	return fn.Result(state)
}

func TestAggregateSumMinMaxAvg(t *testing.T) {
	reg := NewRegistry()
	values := []int64{3, -1, 7, 2}

	sum, err := reg.Get("sum")
	if err != nil {
		t.Fatalf("Get(sum): %v", err)
	}
	if v := runAgg(t, sum, values); v.I64 != 11 {
		t.Errorf("sum = %v, want 11", v)
	}

	min, err := reg.Get("min")
	if err != nil {
		t.Fatalf("Get(min): %v", err)
	}
	if v := runAgg(t, min, values); v.I64 != -1 {
		t.Errorf("min = %v, want -1", v)
	}

	max, err := reg.Get("max")
	if err != nil {
		t.Fatalf("Get(max): %v", err)
	}
	if v := runAgg(t, max, values); v.I64 != 7 {
		t.Errorf("max = %v, want 7", v)
	}

	avg, err := reg.Get("avg")
	if err != nil {
		t.Fatalf("Get(avg): %v", err)
	}
	if v := runAgg(t, avg, values); v.I64 != 2 { // 11/4 truncated
		t.Errorf("avg = %v, want 2", v)
	}
}

func TestRegistryUnknownFunction(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("median"); err == nil {
		t.Fatal("expected error for unregistered aggregate function")
	}
}

func TestAddRejectsNonInt64(t *testing.T) {
	reg := NewRegistry()
	sum, _ := reg.Get("sum")
	state := make([]byte, sum.StateSize())
	sum.Create(state)
	if err := sum.Add(state, value.Row{value.String("nope")}); err == nil {
		t.Fatal("expected type error adding a non-int64 argument")
	}
}
