package cache

import (
	"encoding/json"
	"fmt"

	coorderrors "github.com/mirkobrombin/go-coord/v1/errors"
)

// Codec defines methods for encoding and decoding values stored in the
// shared store.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// encode marshals v, wrapping failures in ErrSerialization so callers
// can distinguish them from store failures.
func encode(c Codec, v any) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coorderrors.ErrSerialization, err)
	}
	return data, nil
}

// decode unmarshals data into v, wrapping failures in ErrSerialization.
func decode(c Codec, data []byte, v any) error {
	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", coorderrors.ErrSerialization, err)
	}
	return nil
}
