// internal/protocol/msgid.go
package protocol

// =======================
// Gate / Framework
// =======================
const (
	MsgGateBegin   = 0
	MsgSessionInit = 3

	MsgHeartbeatReq = 10
	MsgHeartbeatRsp = 11

	MsgErrorRsp = 21
	MsgPush     = 30

	MsgGateEnd = 1000
)

// =======================
// Presence
// =======================
const (
	MsgPresenceBegin = 1000
	MsgLoginReq      = 1001
	MsgLoginRsp      = 1002
	MsgLogoutReq     = 1003
	MsgLogoutRsp     = 1004
	MsgReadyReq      = 1005
	MsgReadyRsp      = 1006
	MsgPresenceEnd   = 2000
)
