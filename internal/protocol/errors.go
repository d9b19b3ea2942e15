package protocol

import "errors"

type ErrorCode int32

const (
	OK ErrorCode = 0

	// ---- 通用 ----
	ErrUnknown      ErrorCode = 1000
	ErrInvalidParam ErrorCode = 1001
	ErrUnauthorized ErrorCode = 1002

	// ---- Presence ----
	ErrLoginFailed  ErrorCode = 1100
	ErrLogoutFailed ErrorCode = 1101
	ErrReadyFailed  ErrorCode = 1102
)

var (
	InternalErrConnClosed  = errors.New("connection closed")
	InternalErrConnBusy    = errors.New("connection send queue full")
	InternalErrBadEnvelope = errors.New("malformed envelope")
)
