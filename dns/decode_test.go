package dns

import (
	"encoding/binary"
	"testing"
)

// buildResponse assembles a minimal DNS response with one A-record answer.
// With pointered set, the answer's name is a compression pointer back into
// the question section; otherwise the name is written out in full.
func buildResponse(t *testing.T, id uint16, name string, ip [4]byte, pointered bool) []byte {
	t.Helper()

	var buf []byte

	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = binary.BigEndian.AppendUint16(buf, 0x8180) // response, no error
	buf = binary.BigEndian.AppendUint16(buf, 1)       // QDCOUNT
	buf = binary.BigEndian.AppendUint16(buf, 1)       // ANCOUNT
	buf = binary.BigEndian.AppendUint16(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, 0)

	questionOffset := len(buf)

	buf = append(buf, encodeName(name)...)
	buf = binary.BigEndian.AppendUint16(buf, typeA)
	buf = binary.BigEndian.AppendUint16(buf, classINET)

	if pointered {
		pointer := uint16(0xC000) | uint16(questionOffset)
		buf = binary.BigEndian.AppendUint16(buf, pointer)
	} else {
		buf = append(buf, encodeName(name)...)
	}

	buf = binary.BigEndian.AppendUint16(buf, typeA)
	buf = binary.BigEndian.AppendUint16(buf, classINET)
	buf = binary.BigEndian.AppendUint32(buf, 300) // TTL
	buf = binary.BigEndian.AppendUint16(buf, 4)   // RDLENGTH
	buf = append(buf, ip[:]...)

	return buf
}

func TestParseUncompressedName(t *testing.T) {
	t.Parallel()

	ip := [4]byte{93, 184, 216, 34}
	data := buildResponse(t, 42, "example.com", ip, false)

	resp, err := Parse(data, 42)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(resp.Answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(resp.Answers))
	}

	if resp.Answers[0].IP != ip {
		t.Fatalf("got ip %v, want %v", resp.Answers[0].IP, ip)
	}
}

func TestParseCompressedName(t *testing.T) {
	t.Parallel()

	ip := [4]byte{1, 2, 3, 4}
	data := buildResponse(t, 7, "example.com", ip, true)

	resp, err := Parse(data, 7)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(resp.Answers) != 1 || resp.Answers[0].Name != "example.com" {
		t.Fatalf("unexpected answers: %+v", resp.Answers)
	}

	if resp.Answers[0].IP != ip {
		t.Fatalf("got ip %v, want %v", resp.Answers[0].IP, ip)
	}
}

func TestParseRejectsMismatchedID(t *testing.T) {
	t.Parallel()

	data := buildResponse(t, 1, "example.com", [4]byte{1, 1, 1, 1}, false)

	if _, err := Parse(data, 2); err == nil {
		t.Fatalf("expected id mismatch error")
	}
}

func TestDecodeNameDetectsPointerLoop(t *testing.T) {
	t.Parallel()

	// Two mutually pointing labels: guaranteed to never terminate without
	// the hop bound.
	data := []byte{0xC0, 2, 0xC0, 0}

	if _, _, err := decodeName(data, 0); err == nil {
		t.Fatalf("expected pointer loop to be rejected")
	}
}
