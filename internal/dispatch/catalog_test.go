package dispatch

import "testing"

func TestDefaultRegistry(t *testing.T) {
	registry, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	defs := registry.Defs()
	if len(defs) != len(hostTools)+1 {
		t.Fatalf("defs = %d, want %d", len(defs), len(hostTools)+1)
	}
	code, ok := registry.Lookup("run_code")
	if !ok || code.Kind != KindSandbox {
		t.Fatalf("run_code binding = %+v, ok = %v", code, ok)
	}
	transcribe, ok := registry.Lookup("transcribe_audio")
	if !ok || transcribe.Class != ClassMedia {
		t.Fatalf("transcribe_audio binding = %+v", transcribe)
	}
	if transcribe.Class.Duration() <= ClassStandard.Duration() {
		t.Fatal("media tools should get the longest budget")
	}
}
