package events

import (
	"errors"
	"testing"
)

func TestEncodeDecode_InfraProvisionResult(t *testing.T) {
	in := &InfraProvisionResult{
		Success:    false,
		DispatchID: "d-123",
		Retrying:   true,
		Error:      "stack update failed",
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got, ok := out.(*InfraProvisionResult)
	if !ok {
		t.Fatalf("expected *InfraProvisionResult, got %T", out)
	}
	if got.DispatchID != in.DispatchID || got.Retrying != in.Retrying || got.Error != in.Error {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Terminal() {
		t.Fatalf("retrying failure must not be terminal")
	}
}

func TestDecode_UnknownKindIsLoud(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"mystery","success":true}`))
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	var unknown *UnknownKindError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownKindError, got %v", err)
	}
	if unknown.Kind != "mystery" {
		t.Fatalf("unexpected kind in error: %q", unknown.Kind)
	}
}

func TestResult_TerminalClassification(t *testing.T) {
	cases := []struct {
		name     string
		event    Result
		terminal bool
	}{
		{"success", &InfraProvisionResult{Success: true, DispatchID: "d"}, true},
		{"retrying failure", &InfraProvisionResult{DispatchID: "d", Retrying: true}, false},
		{"exhausted failure", &InfraProvisionResult{DispatchID: "d"}, true},
		{"sync success", &PapercutSyncResult{Success: true, DispatchID: "d"}, true},
		{"sync retrying", &PapercutSyncResult{DispatchID: "d", Retrying: true}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.event.Terminal() != tc.terminal {
				t.Fatalf("Terminal() = %v, want %v", tc.event.Terminal(), tc.terminal)
			}
		})
	}
}

func TestDecode_PokeHasNoPayload(t *testing.T) {
	data, err := Encode(&ReplicachePoke{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"kind":"replicache_poke"}` {
		t.Fatalf("unexpected wire form: %s", data)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := out.(*ReplicachePoke); !ok {
		t.Fatalf("expected *ReplicachePoke, got %T", out)
	}
}
