package protocol

import "encoding/json"

// AckReceived is the value of the "ack" field in every acknowledgment.
const AckReceived = "received"

// Ack is the payload echoed back on the same channel for every delivered frame.
type Ack struct {
	Ack     string `json:"ack"`
	SeqEcho uint16 `json:"seqEcho"`
}

// NewAck builds the acknowledgment payload for seq.
func NewAck(seq uint16) []byte {
	data, _ := json.Marshal(Ack{Ack: AckReceived, SeqEcho: seq})
	return data
}

// ParseAck reports whether payload is an acknowledgment and returns it.
func ParseAck(payload []byte) (Ack, bool) {
	var a Ack
	if err := json.Unmarshal(payload, &a); err != nil {
		return Ack{}, false
	}
	return a, a.Ack == AckReceived
}
