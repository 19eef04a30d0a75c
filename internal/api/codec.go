// Package api defines the queue service contract shared by the gRPC server
// and the CLI: request and response messages, the service descriptor, a
// typed client and the JSON codec the messages travel in.
package api

import (
	"encoding/json"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Codec marshals queue messages as JSON. Protobuf messages, such as the
// health service's, go through protojson so they can share the subtype.
type Codec struct{}

func (Codec) Name() string { return common.CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(Codec{})
}
