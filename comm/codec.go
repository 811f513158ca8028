package comm

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// Constants

// codecName is the gRPC content subtype
// sync messages are sent with.
const codecName = "json"

// Structs

// JSONCodec lets gRPC carry the plain Go message
// structs of this package as JSON documents.
type JSONCodec struct{}

// Functions

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// Marshal fulfills the Marshal() part of
// gRPC's encoding.Codec interface.
func (c JSONCodec) Marshal(v interface{}) ([]byte, error) {

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling %T failed", v)
	}

	return data, nil
}

// Unmarshal fulfills the Unmarshal() part of
// gRPC's encoding.Codec interface.
func (c JSONCodec) Unmarshal(data []byte, v interface{}) error {

	err := json.Unmarshal(data, v)
	if err != nil {
		return errors.Wrapf(err, "unmarshalling into %T failed", v)
	}

	return nil
}

// Name fulfills the Name() part of gRPC's
// encoding.Codec interface.
func (c JSONCodec) Name() string {
	return codecName
}
