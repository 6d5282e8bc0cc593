// Package wire implements the AMP frame codec: a length-prefixed,
// multi-field, typed-message framing protocol, per spec section 4.1.
//
// Frame layout: one byte field count, then per field: one byte type tag,
// four bytes big-endian payload length, then that many payload bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/USA-RedDragon/axon/internal/axonerr"
)

// FieldType is the AMP field type tag.
type FieldType byte

const (
	// Blob is a raw-bytes field; length taken verbatim.
	Blob FieldType = iota
	// String is a UTF-8 field with no trailing NUL in the payload.
	String
	// BigInt is a signed 64-bit integer encoded as decimal ASCII text.
	BigInt
	// JSON is a UTF-8 field containing a JSON value.
	JSON
)

func (t FieldType) String() string {
	switch t {
	case Blob:
		return "BLOB"
	case String:
		return "STRING"
	case BigInt:
		return "BIGINT"
	case JSON:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

// MaxFields is the largest field count a single AMP message may carry
// (the count is itself a single byte).
const MaxFields = 255

// Field is one typed value in an AMP message.
type Field struct {
	Type    FieldType
	Payload []byte
}

// BlobField builds a BLOB field from raw bytes.
func BlobField(b []byte) Field {
	return Field{Type: Blob, Payload: append([]byte{}, b...)}
}

// StringField builds a STRING field.
func StringField(s string) Field {
	return Field{Type: String, Payload: []byte(s)}
}

// BigIntField builds a BIGINT field from a signed 64-bit integer.
func BigIntField(v int64) Field {
	return Field{Type: BigInt, Payload: []byte(strconv.FormatInt(v, 10))}
}

// JSONField builds a JSON field by marshaling v.
func JSONField(v any) (Field, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Field{}, axonerr.New(axonerr.InvalidArgument, "wire.JSONField", err)
	}
	return Field{Type: JSON, Payload: b}, nil
}

// RawJSONField builds a JSON field from an already-encoded JSON document.
func RawJSONField(b []byte) Field {
	return Field{Type: JSON, Payload: append([]byte(nil), b...)}
}

// Bytes returns the field's raw payload, regardless of type.
func (f Field) Bytes() []byte {
	return f.Payload
}

// String returns the field's payload decoded as UTF-8 text.
func (f Field) String() string {
	return string(f.Payload)
}

// Int64 parses the field's payload as a base-10 signed 64-bit integer.
func (f Field) Int64() (int64, error) {
	v, err := strconv.ParseInt(string(f.Payload), 10, 64)
	if err != nil {
		return 0, axonerr.New(axonerr.MalformedFrame, "wire.Field.Int64", err)
	}
	return v, nil
}

// Unmarshal decodes the field's JSON payload into v.
func (f Field) Unmarshal(v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return axonerr.New(axonerr.MalformedFrame, "wire.Field.Unmarshal", err)
	}
	return nil
}

// Message is an ordered sequence of AMP fields.
type Message []Field

// Encode writes the message to w in AMP wire format. The message must have
// between 1 and MaxFields fields.
func (m Message) Encode(w io.Writer) error {
	if len(m) < 1 || len(m) > MaxFields {
		return axonerr.New(axonerr.InvalidArgument, "wire.Message.Encode",
			fmt.Errorf("message has %d fields, want 1..%d", len(m), MaxFields))
	}

	buf := make([]byte, 0, 1+len(m)*5)
	buf = append(buf, byte(len(m)))
	for _, f := range m {
		buf = append(buf, byte(f.Type))
		var lenBytes [4]byte
		binary.BigEndian.PutUint32(lenBytes[:], uint32(len(f.Payload)))
		buf = append(buf, lenBytes[:]...)
		buf = append(buf, f.Payload...)
	}
	if _, err := w.Write(buf); err != nil {
		return axonerr.New(axonerr.NetworkError, "wire.Message.Encode", err)
	}
	return nil
}

// EncodeBytes encodes the message into a standalone byte slice.
func (m Message) EncodeBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one AMP message from r. It fails with a MalformedFrame
// axonerr.Error on a zero field count, truncation, an unknown type tag, a
// non-UTF-8 STRING/JSON payload, or JSON text that doesn't parse.
func Decode(r io.Reader) (Message, error) {
	var countByte [1]byte
	if _, err := io.ReadFull(r, countByte[:]); err != nil {
		return nil, malformed("wire.Decode", fmt.Errorf("reading field count: %w", err))
	}
	count := int(countByte[0])
	if count == 0 {
		return nil, malformed("wire.Decode", fmt.Errorf("field count is zero"))
	}

	msg := make(Message, 0, count)
	for i := 0; i < count; i++ {
		f, err := decodeField(r)
		if err != nil {
			return nil, err
		}
		msg = append(msg, f)
	}
	return msg, nil
}

// DecodeBytes decodes a single AMP message from a standalone byte slice.
func DecodeBytes(b []byte) (Message, error) {
	return Decode(bytes.NewReader(b))
}

func decodeField(r io.Reader) (Field, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Field{}, malformed("wire.Decode", fmt.Errorf("reading field header: %w", err))
	}
	typ := FieldType(header[0])
	if typ != Blob && typ != String && typ != BigInt && typ != JSON {
		return Field{}, malformed("wire.Decode", fmt.Errorf("unknown field type tag %d", header[0]))
	}
	length := binary.BigEndian.Uint32(header[1:5])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Field{}, malformed("wire.Decode", fmt.Errorf("reading field payload: %w", err))
		}
	}

	switch typ {
	case String:
		if !utf8.Valid(payload) {
			return Field{}, malformed("wire.Decode", fmt.Errorf("STRING field is not valid UTF-8"))
		}
	case JSON:
		if !utf8.Valid(payload) {
			return Field{}, malformed("wire.Decode", fmt.Errorf("JSON field is not valid UTF-8"))
		}
		if !json.Valid(payload) {
			return Field{}, malformed("wire.Decode", fmt.Errorf("JSON field does not parse"))
		}
	}

	return Field{Type: typ, Payload: payload}, nil
}

func malformed(op string, err error) error {
	return axonerr.New(axonerr.MalformedFrame, op, err)
}
