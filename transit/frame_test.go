package transit_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/relaymesh/broker/transit"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []*transit.Frame{
		{Ver: transit.ProtocolVersion, Sender: "node-a", Kind: transit.FrameDiscover, Payload: nil},
		{Ver: transit.ProtocolVersion, Sender: "node-b", Kind: transit.FrameRequest, Payload: []byte(`{"id":"1"}`)},
		{Ver: transit.ProtocolVersion, Sender: "", Kind: transit.FrameEvent, Payload: []byte("\x00\x01\x02")},
	}
	for _, want := range cases {
		got, err := transit.DecodeFrame(want.Encode())
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	f := &transit.Frame{Ver: 0, Sender: "node-a", Kind: transit.FrameInfo, Payload: []byte("hello")}
	raw := f.Encode()
	if _, err := transit.DecodeFrame(raw[:len(raw)-2]); err == nil {
		t.Error("DecodeFrame on truncated input: expected error")
	}
}

func TestFrameKindString(t *testing.T) {
	if got := transit.FrameRequest.String(); got != "REQUEST" {
		t.Errorf("FrameRequest.String() = %q, want REQUEST", got)
	}
	if got := transit.FrameKind(99).String(); got != "FRAME:99" {
		t.Errorf("unknown kind String() = %q, want FRAME:99", got)
	}
}
