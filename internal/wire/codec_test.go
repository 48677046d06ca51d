package wire

import (
	"encoding/json"
	"reflect"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestCodecRegisteredUnderContentSubtype(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	if c == nil {
		t.Fatalf("codec %q not registered", CodecName)
	}
	if c.Name() != CodecName {
		t.Fatalf("codec.Name() = %q, want %q", c.Name(), CodecName)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	want := &RegisterRequest{AgentID: "agent-1", Name: "worker", Backend: "mux"}

	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got RegisterRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, *want) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, *want)
	}
}

func TestJSONCodecMarshalError(t *testing.T) {
	c := jsonCodec{}
	if _, err := c.Marshal(json.RawMessage(`{`)); err == nil {
		t.Fatal("expected marshal error for invalid raw message")
	}
}

func TestJSONCodecUnmarshalError(t *testing.T) {
	c := jsonCodec{}
	var req RegisterRequest
	if err := c.Unmarshal([]byte("not json"), &req); err == nil {
		t.Fatal("expected unmarshal error for invalid json")
	}
}
