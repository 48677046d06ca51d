package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered as a gRPC content-subtype (see SPEC_FULL.md
// section C). It is the JSON analogue of the "proto" codec grpc-go
// registers by default, reusing the exact same encoding.Codec extension
// point so the rest of grpc-go's stream machinery (framing, flow control,
// deadlines, status codes) is the genuine library, not a reimplementation.
const CodecName = "swarmjson"

// jsonCodec implements encoding.Codec over plain JSON-tagged structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
