package transport

type Conn interface {
	ReadEnvelope() (*Envelope, error)
	WriteEnvelope(*Envelope) error
	RemoteAddr() string
	Close() error
}
