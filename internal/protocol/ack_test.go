package protocol

import "testing"

func TestAckRoundTrip(t *testing.T) {
	a, ok := ParseAck(NewAck(513))
	if !ok {
		t.Fatal("NewAck payload not recognised as ack")
	}
	if a.SeqEcho != 513 {
		t.Errorf("SeqEcho: got %d, want 513", a.SeqEcho)
	}
	if string(NewAck(2)) != `{"ack":"received","seqEcho":2}` {
		t.Errorf("unexpected ack encoding: %s", NewAck(2))
	}
}

func TestParseAckRejectsGameData(t *testing.T) {
	for _, p := range []string{
		`{"player_id":1}`,
		`{"ack":"pending"}`,
		`{"ack":1}`,
	} {
		if _, ok := ParseAck([]byte(p)); ok {
			t.Errorf("%s should not parse as ack", p)
		}
	}
}
