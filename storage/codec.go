package storage

import (
	"encoding/gob"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes checkpoint artifacts. Gob is the default; CBOR produces
// artifacts readable outside Go.
type Codec interface {
	Encode(w io.Writer, obj any) error
	Decode(r io.Reader, obj any) error
}

// GobCodec encodes artifacts with encoding/gob.
type GobCodec struct{}

func (GobCodec) Encode(w io.Writer, obj any) error {
	return gob.NewEncoder(w).Encode(obj)
}

func (GobCodec) Decode(r io.Reader, obj any) error {
	return gob.NewDecoder(r).Decode(obj)
}

// CBORCodec encodes artifacts as canonical CBOR.
type CBORCodec struct{}

func (CBORCodec) Encode(w io.Writer, obj any) error {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return err
	}
	return enc.NewEncoder(w).Encode(obj)
}

func (CBORCodec) Decode(r io.Reader, obj any) error {
	return cbor.NewDecoder(r).Decode(obj)
}
