package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"order-rpc/message"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	original := &message.Envelope{
		Method:  "OrderService.Create",
		Payload: []byte(`{"customer_id":"C001","item_ids":["A","B"]}`),
	}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded message.Envelope
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}

	if diff := cmp.Diff(original, &decoded); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestProtoCodec(t *testing.T) {
	protoCodec := &ProtoCodec{}

	cases := []struct {
		name string
		env  *message.Envelope
	}{
		{"request", &message.Envelope{
			Method:  "OrderService.Create",
			Payload: []byte(`{"customer_id":"C001"}`),
		}},
		{"error", &message.Envelope{
			Method: "OrderService.StreamStatus",
			Code:   message.CodeNotFound,
			Error:  `order "ord_x" not found`,
		}},
		{"empty", &message.Envelope{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := protoCodec.Encode(tc.env)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			var decoded message.Envelope
			if err := protoCodec.Decode(data, &decoded); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if diff := cmp.Diff(tc.env, &decoded); diff != "" {
				t.Errorf("envelope mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProtoCodecRejectsWrongType(t *testing.T) {
	protoCodec := &ProtoCodec{}
	if _, err := protoCodec.Encode("not an envelope"); err == nil {
		t.Fatal("expect error for non-envelope value")
	}
	if err := protoCodec.Decode([]byte{}, "not an envelope"); err == nil {
		t.Fatal("expect error for non-envelope target")
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Error("expect JSON codec")
	}
	if GetCodec(CodecTypeProto).Type() != CodecTypeProto {
		t.Error("expect proto codec")
	}
}
