package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec converts envelopes to and from their wire representation.
type Codec interface {
	Name() string
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(data []byte) (*Envelope, error)
}

// Codec names accepted by CodecByName and the AGENTRELAY_CODEC setting.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec(), nil
	}
	return nil, fmt.Errorf("codec %q: %w", name, ErrUnknownCodec)
}

// JSONCodec is the reference wire encoding.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Marshal(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope: %w", ErrInvalidEnvelope)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope as JSON: %w", err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode JSON envelope: %w", ErrInvalidEnvelope)
	}
	if env.Payload == nil {
		env.Payload = map[string]interface{}{}
	}
	return &env, nil
}

// CBORCodec encodes envelopes with CBOR Core Deterministic Encoding.
// Payload maps decode as map[string]interface{} so handlers see the same
// shapes regardless of the codec.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec. The option sets are static, so a failure
// here is a programming error.
func NewCBORCodec() *CBORCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("core: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("core: CBOR decoder initialization failed: " + err.Error())
	}
	return &CBORCodec{enc: enc, dec: dec}
}

func (c *CBORCodec) Name() string { return CodecCBOR }

func (c *CBORCodec) Marshal(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope: %w", ErrInvalidEnvelope)
	}
	data, err := c.enc.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope as CBOR: %w", err)
	}
	return data, nil
}

func (c *CBORCodec) Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR envelope: %w", ErrInvalidEnvelope)
	}
	if env.Payload == nil {
		env.Payload = map[string]interface{}{}
	}
	return &env, nil
}
