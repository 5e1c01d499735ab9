package registry

import "testing"

func TestAllocateAndLookup(t *testing.T) {
	var r Registry
	if err := r.Allocate(5, KindStepper, "x-axis"); err != nil {
		t.Fatal(err)
	}
	got, err := r.Lookup(5, KindStepper)
	if err != nil || got != "x-axis" {
		t.Fatalf("got %v, %v", got, err)
	}
	if _, err := r.Lookup(5, KindHeater); err == nil {
		t.Fatal("expected kind mismatch error")
	}
	if _, err := r.Lookup(6, KindStepper); err != ErrBadOid {
		t.Fatalf("expected ErrBadOid for unallocated oid, got %v", err)
	}
}

func TestAllocateOutOfRangeOrDuplicate(t *testing.T) {
	var r Registry
	if err := r.Allocate(255, KindADC, 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Allocate(256, KindADC, 1); err == nil {
		t.Fatal("expected error for oid > 255")
	}
	if err := r.Allocate(255, KindADC, 2); err == nil {
		t.Fatal("expected error re-allocating the same oid")
	}
}

func TestEachIteratesOnlyMatchingKind(t *testing.T) {
	var r Registry
	r.Allocate(1, KindHeater, "bed")
	r.Allocate(2, KindHeater, "hotend")
	r.Allocate(3, KindStepper, "x")

	var heaters []uint8
	r.Each(KindHeater, func(oid uint8, res any) {
		heaters = append(heaters, oid)
	})
	if len(heaters) != 2 || heaters[0] != 1 || heaters[1] != 2 {
		t.Fatalf("got %v", heaters)
	}
}

func TestResetClearsEverything(t *testing.T) {
	var r Registry
	r.Allocate(9, KindEndstop, true)
	r.Reset()
	if _, err := r.Lookup(9, KindEndstop); err != ErrBadOid {
		t.Fatalf("expected ErrBadOid after reset, got %v", err)
	}
}
