package udp_test

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// testUDPDatagram builds a raw UDP datagram (header + payload) with the
// checksum left at zero, which spec.md §4.7 treats as "not computed" and
// udp.Input accepts without verification.
func testUDPDatagram(t *testing.T, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	t.Helper()

	hdr := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}

	if err := gopacket.SerializeLayers(buf, opts, hdr, gopacket.Payload(payload)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
