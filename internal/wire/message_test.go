package wire

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{
		Command:  CommandPingReq,
		SenderID: 3,
		Updates:  []Update{{ID: 1, Sequence: 4, Status: "suspect"}},
		TargetID: 7,
	}
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Command != m.Command || got.SenderID != m.SenderID || got.TargetID != m.TargetID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Updates) != 1 || got.Updates[0].ID != 1 || got.Updates[0].Status != "suspect" {
		t.Fatalf("updates round trip mismatch: %+v", got.Updates)
	}
}

func TestDecodeMalformedReturnsParseError(t *testing.T) {
	_, err := Decode([]byte("not json"))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
