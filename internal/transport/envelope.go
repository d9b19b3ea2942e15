package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

const maxFrameSize = 1 << 20

// Envelope is one client message. On the wire it is a google.protobuf.Struct
// with the fields msg_id, session and data.
type Envelope struct {
	MsgID   int
	Session string
	Data    map[string]any
}

// String returns data[key] when it is a string.
func (e *Envelope) String(key string) string {
	if e == nil || e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

func (e *Envelope) toStruct() (*structpb.Struct, error) {
	fields := map[string]any{
		"msg_id": e.MsgID,
	}
	if e.Session != "" {
		fields["session"] = e.Session
	}
	if len(e.Data) > 0 {
		fields["data"] = e.Data
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.InternalErrBadEnvelope, err)
	}
	return st, nil
}

func envelopeFromStruct(st *structpb.Struct) (*Envelope, error) {
	m := st.AsMap()
	id, ok := m["msg_id"].(float64)
	if !ok || id < 0 || id != float64(int(id)) {
		return nil, fmt.Errorf("%w: msg_id", protocol.InternalErrBadEnvelope)
	}
	env := &Envelope{MsgID: int(id)}
	if s, ok := m["session"].(string); ok {
		env.Session = s
	}
	if data, ok := m["data"].(map[string]any); ok {
		env.Data = data
	}
	return env, nil
}

func marshalEnvelope(env *Envelope) ([]byte, error) {
	st, err := env.toStruct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func unmarshalEnvelope(data []byte) (*Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.InternalErrBadEnvelope, err)
	}
	return envelopeFromStruct(&st)
}

// 帧格式：4 字节大端长度 + protobuf
func readEnvelope(reader io.Reader) (*Envelope, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(reader, sizeBuf[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", protocol.InternalErrBadEnvelope, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, err
	}
	return unmarshalEnvelope(data)
}

func writeEnvelope(writer io.Writer, env *Envelope) error {
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(data)))

	if _, err := writer.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err = writer.Write(data)
	return err
}
