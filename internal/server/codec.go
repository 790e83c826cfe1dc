package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// frameCodec turns outbound envelopes into websocket frames.
type frameCodec interface {
	Name() string
	FrameType() int
	Encode(v any) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                 { return "json" }
func (jsonCodec) FrameType() int               { return websocket.TextMessage }
func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

// protoCodec sends a google.protobuf.Struct mirroring the JSON form, so
// clients decode with the well-known types and no generated schema.
type protoCodec struct{}

func (protoCodec) Name() string   { return "proto" }
func (protoCodec) FrameType() int { return websocket.BinaryMessage }

func (protoCodec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("proto frame: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("proto frame: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}
	return data, nil
}

// msgpackCodec reuses the json tags for its keys.
type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func codecFor(format string) (frameCodec, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return jsonCodec{}, true
	case "proto", "protobuf":
		return protoCodec{}, true
	case "msgpack":
		return msgpackCodec{}, true
	}
	return nil, false
}

func writeFrame(conn *websocket.Conn, codec frameCodec, v any) error {
	data, err := codec.Encode(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(codec.FrameType(), data)
}
