package rtspcore

import "testing"

func TestPacketizerAdvancesSequence(t *testing.T) {
	p := NewPacketizer(96, 90000)

	first, err := p.Packetize([]byte("a"), false)
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	second, err := p.Packetize([]byte("b"), true)
	if err != nil {
		t.Fatalf("Packetize: %v", err)
	}
	if second.SequenceNumber != first.SequenceNumber+1 {
		t.Fatalf("sequence did not advance: %d -> %d", first.SequenceNumber, second.SequenceNumber)
	}
	if first.SSRC != p.SSRC() {
		t.Fatalf("packet SSRC does not match packetizer SSRC")
	}
	if !second.Marker {
		t.Fatal("expected marker bit set on second packet")
	}
}

func TestDepacketizerDetectsSequenceGap(t *testing.T) {
	p := NewPacketizer(96, 90000)
	d := &Depacketizer{}

	pkt1, _ := p.Packetize([]byte("a"), false)
	raw1, _ := pkt1.Marshal()
	_, gap, err := d.Accept(raw1)
	if err != nil || gap {
		t.Fatalf("unexpected gap on first packet: %v %v", gap, err)
	}

	// skip a sequence number to simulate a dropped packet
	p.seq++
	pkt3, _ := p.Packetize([]byte("c"), false)
	raw3, _ := pkt3.Marshal()
	_, gap, err = d.Accept(raw3)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !gap {
		t.Fatal("expected gap to be detected")
	}
	if d.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", d.Dropped())
	}
}
