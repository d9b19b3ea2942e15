package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

// WSConn carries one envelope per websocket message. Text messages hold
// protojson, binary messages hold the protobuf encoding.
type WSConn struct {
	conn    *websocket.Conn
	useJSON bool
	writeMu sync.Mutex
}

func NewWSConn(conn *websocket.Conn, useJSON bool) *WSConn {
	conn.SetReadLimit(maxFrameSize)
	return &WSConn{
		conn:    conn,
		useJSON: useJSON,
	}
}

func (c *WSConn) ReadEnvelope() (*Envelope, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	switch messageType {
	case websocket.TextMessage:
		var st structpb.Struct
		if err := protojson.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.InternalErrBadEnvelope, err)
		}
		return envelopeFromStruct(&st)
	default:
		return unmarshalEnvelope(data)
	}
}

func (c *WSConn) WriteEnvelope(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.useJSON {
		st, err := env.toStruct()
		if err != nil {
			return err
		}
		data, err := protojson.Marshal(st)
		if err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.TextMessage, data)
	}
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *WSConn) RemoteAddr() string {
	return hostOf(c.conn.RemoteAddr())
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}
