package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestLockTableStatus(t *testing.T) {
	table := LockTable{"Assets/a.prefab": "alice"}

	st := table.Status("Assets/a.prefab")
	if !st.Locked || st.Holder != "alice" {
		t.Fatalf("expected locked by alice, got %+v", st)
	}

	st = table.Status("Assets/b.prefab")
	if st.Locked || st.Holder != "" {
		t.Fatalf("expected unlocked, got %+v", st)
	}

	var nilTable LockTable
	if nilTable.Status("x").Locked {
		t.Fatal("nil table should report unlocked")
	}
}

func TestLockTableHeldBy(t *testing.T) {
	table := LockTable{
		"b.prefab": "alice",
		"a.prefab": "alice",
		"c.prefab": "bob",
	}
	got := table.HeldBy("alice")
	want := []string{"a.prefab", "b.prefab"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("HeldBy(alice) = %v, want %v", got, want)
	}
	if len(table.HeldBy("carol")) != 0 {
		t.Fatal("carol holds nothing")
	}
}

func TestLockTableCloneIsIndependent(t *testing.T) {
	table := LockTable{"x": "alice"}
	clone := table.Clone()
	clone["y"] = "bob"
	if _, ok := table["y"]; ok {
		t.Fatal("mutating clone changed original")
	}
	if LockTable(nil).Clone() != nil {
		t.Fatal("nil clone should stay nil")
	}
}

func TestLockTableEntriesSorted(t *testing.T) {
	table := LockTable{"z": "a", "m": "b", "a": "c"}
	entries := table.Entries()
	if len(entries) != 3 || entries[0].ResourcePath != "a" || entries[2].ResourcePath != "z" {
		t.Fatalf("entries not sorted: %+v", entries)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status LockStatus
		err    error
		want   LockState
	}{
		{"free", LockStatus{}, nil, StateFree},
		{"mine", LockStatus{Locked: true, Holder: "alice"}, nil, StateHeldByMe},
		{"other", LockStatus{Locked: true, Holder: "bob"}, nil, StateHeldByOther},
		{"query failed", LockStatus{}, errors.New("timeout"), StateUnknown},
		{"query failed with stale locked", LockStatus{Locked: true, Holder: "alice"}, errors.New("boom"), StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, "alice", tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsValidAction(t *testing.T) {
	for _, a := range []LockAction{ActionLock, ActionUnlock, ActionForceUnlock} {
		if !IsValidAction(a) {
			t.Errorf("expected %q valid", a)
		}
	}
	if IsValidAction("steal") {
		t.Error("expected steal invalid")
	}
}

func TestLockOutcomeAccepted(t *testing.T) {
	for _, o := range []LockOutcome{OutcomeLocked, OutcomeAlreadyLocked, OutcomeUnlocked, OutcomeNotLocked} {
		if !o.Accepted() {
			t.Errorf("expected %q accepted", o)
		}
	}
	if OutcomeRejected.Accepted() || LockOutcome("").Accepted() {
		t.Error("rejected and empty outcomes must not be accepted")
	}
}
