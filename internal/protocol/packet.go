package protocol

// Packet is one client-side command pushed over a session's channel.
type Packet struct {
	Cls    string         `json:"cls"`
	Method string         `json:"method"`
	Data   map[string]any `json:"data,omitempty"`
}

// ClosePacket tells the client to drop its live connection.
func ClosePacket() Packet {
	return Packet{Cls: "game", Method: "close"}
}

func (p Packet) IsClose() bool {
	return p.Cls == "game" && p.Method == "close"
}

// ChannelID is the push channel of a session.
func ChannelID(sessionID string) string {
	return "id_" + sessionID
}

// SessionFromChannel is the inverse of ChannelID.
func SessionFromChannel(channel string) (string, bool) {
	const prefix = "id_"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}
	return channel[len(prefix):], true
}
