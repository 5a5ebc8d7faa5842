package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		op      Opcode
		payload []byte
	}{
		{"sync step 1 empty payload", OpSyncStep1, nil},
		{"update with payload", OpUpdate, []byte{1, 2, 3, 4}},
		{"awareness", OpAwareness, []byte("presence")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := Encode(tc.op, tc.payload)
			op, payload, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if op != tc.op {
				t.Fatalf("op = %v, want %v", op, tc.op)
			}
			if !bytes.Equal(payload, tc.payload) {
				t.Fatalf("payload = %v, want %v", payload, tc.payload)
			}
		})
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	if _, _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty frame")
	}
}

func TestOpcodeString(t *testing.T) {
	if OpUpdate.String() != "update" {
		t.Fatalf("String() = %q", OpUpdate.String())
	}
	if Opcode(99).String() == "" {
		t.Fatal("unknown opcode should still stringify")
	}
}
