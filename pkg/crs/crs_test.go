package crs

import "testing"

func TestInitProjDataIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := InitProjData(dir); err != nil {
		t.Fatalf("first InitProjData: %v", err)
	}
	if err := InitProjData(dir); err != nil {
		t.Fatalf("second InitProjData with same dir should be a no-op: %v", err)
	}
}
