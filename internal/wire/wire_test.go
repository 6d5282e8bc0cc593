package wire_test

import (
	"bytes"
	"testing"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/wire"
	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	bigIntField := wire.BigIntField(-42)
	jsonField, err := wire.JSONField(map[string]any{"payload": "hi"})
	if err != nil {
		t.Fatalf("JSONField failed: %v", err)
	}

	cases := []struct {
		name string
		msg  wire.Message
	}{
		{"single blob", wire.Message{wire.BlobField([]byte{0x01, 0x02, 0x03})}},
		{"single string", wire.Message{wire.StringField("message::hello")}},
		{"empty blob", wire.Message{wire.BlobField(nil)}},
		{"multi field", wire.Message{
			wire.StringField("message::orders.created"),
			bigIntField,
			jsonField,
		}},
		{"max fields", makeMaxFieldsMessage()},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := tc.msg.EncodeBytes()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := wire.DecodeBytes(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if !cmp.Equal([]wire.Field(tc.msg), []wire.Field(decoded)) {
				t.Errorf("round trip mismatch: %s", cmp.Diff([]wire.Field(tc.msg), []wire.Field(decoded)))
			}
		})
	}
}

func makeMaxFieldsMessage() wire.Message {
	msg := make(wire.Message, wire.MaxFields)
	for i := range msg {
		msg[i] = wire.StringField("f")
	}
	return msg
}

func TestEncodeRejectsFieldCountOutOfRange(t *testing.T) {
	t.Parallel()

	if _, err := (wire.Message{}).EncodeBytes(); err == nil {
		t.Fatal("expected error for empty message")
	} else if !axonerr.Is(err, axonerr.InvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}

	tooMany := make(wire.Message, wire.MaxFields+1)
	for i := range tooMany {
		tooMany[i] = wire.StringField("x")
	}
	if _, err := tooMany.EncodeBytes(); err == nil {
		t.Fatal("expected error for oversized message")
	} else if !axonerr.Is(err, axonerr.InvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data []byte
	}{
		{"zero field count", []byte{0x00}},
		{"truncated header", []byte{0x01, 0x00}},
		{"truncated payload", []byte{0x01, byte(wire.String), 0x00, 0x00, 0x00, 0x05, 'h', 'i'}},
		{"unknown type tag", []byte{0x01, 0x09, 0x00, 0x00, 0x00, 0x00}},
		{"non utf8 string", []byte{0x01, byte(wire.String), 0x00, 0x00, 0x00, 0x02, 0xff, 0xfe}},
		{"invalid json", []byte{0x01, byte(wire.JSON), 0x00, 0x00, 0x00, 0x03, '{', '1', '}'}},
		{"empty stream", nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := wire.Decode(bytes.NewReader(tc.data))
			if err == nil {
				t.Fatal("expected MalformedFrame error")
			}
			if !axonerr.Is(err, axonerr.MalformedFrame) {
				t.Errorf("expected MalformedFrame, got %v", err)
			}
		})
	}
}

func TestFieldAccessors(t *testing.T) {
	t.Parallel()

	bi := wire.BigIntField(123456789)
	v, err := bi.Int64()
	if err != nil {
		t.Fatalf("Int64 failed: %v", err)
	}
	if v != 123456789 {
		t.Errorf("got %d, want 123456789", v)
	}

	jf, err := wire.JSONField(map[string]string{"type": "hello"})
	if err != nil {
		t.Fatalf("JSONField failed: %v", err)
	}
	var decoded map[string]string
	if err := jf.Unmarshal(&decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["type"] != "hello" {
		t.Errorf("got %q, want %q", decoded["type"], "hello")
	}
}
