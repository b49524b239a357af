package ldp

import (
	"encoding/binary"
	"testing"
)

// buildLabelMappingPDU constructs one PDU carrying a single Label
// Mapping message for 203.0.113.0/24 -> label 100, matching the wire
// layout DecodePDU/DecodeLabelMapping expect.
func buildLabelMappingPDU(t *testing.T) []byte {
	t.Helper()

	var fecTLV []byte
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, TLVFEC)
	fecElement := []byte{2, 0, 1, 24, 203, 0, 113} // type=prefix, afi=1, len=24, 3 octets
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, uint16(len(fecElement)))
	fecTLV = append(fecTLV, fecElement...)

	var labelTLV []byte
	labelTLV = binary.BigEndian.AppendUint16(labelTLV, TLVGenericLabel)
	labelTLV = binary.BigEndian.AppendUint16(labelTLV, 4)
	labelTLV = binary.BigEndian.AppendUint32(labelTLV, 100)

	msgBody := append(fecTLV, labelTLV...)

	var msg []byte
	msg = binary.BigEndian.AppendUint16(msg, MsgTypeLabelMapping)
	msg = binary.BigEndian.AppendUint16(msg, uint16(4+len(msgBody))) // message ID + params
	msg = binary.BigEndian.AppendUint32(msg, 1)                     // message ID
	msg = append(msg, msgBody...)

	pdu := make([]byte, pduHeaderSize)
	binary.BigEndian.PutUint16(pdu[0:2], 1)
	binary.BigEndian.PutUint16(pdu[2:4], uint16(6+len(msg)))
	copy(pdu[4:8], []byte{10, 0, 0, 1})
	binary.BigEndian.PutUint16(pdu[8:10], 0)
	pdu = append(pdu, msg...)
	return pdu
}

func TestDecodePDUAndLabelMapping(t *testing.T) {
	pdu := buildLabelMappingPDU(t)

	hdr, msgs, err := DecodePDU(pdu)
	if err != nil {
		t.Fatalf("DecodePDU failed: %v", err)
	}
	if hdr.LSRID != "10.0.0.1" {
		t.Fatalf("expected LSR ID 10.0.0.1, got %s", hdr.LSRID)
	}
	if len(msgs) != 1 || msgs[0].Type != MsgTypeLabelMapping {
		t.Fatalf("expected one label mapping message, got %+v", msgs)
	}

	mapping, err := DecodeLabelMapping(msgs[0].Body)
	if err != nil {
		t.Fatalf("DecodeLabelMapping failed: %v", err)
	}
	if mapping.FEC != "203.0.113.0/24" {
		t.Fatalf("expected FEC 203.0.113.0/24, got %s", mapping.FEC)
	}
	if mapping.Label != 100 {
		t.Fatalf("expected label 100, got %d", mapping.Label)
	}
}

func TestDecodeFECOnlyIgnoresMissingLabel(t *testing.T) {
	var fecTLV []byte
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, TLVFEC)
	fecElement := []byte{2, 0, 1, 24, 198, 51, 100}
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, uint16(len(fecElement)))
	fecTLV = append(fecTLV, fecElement...)

	fec, err := DecodeFEC(fecTLV)
	if err != nil {
		t.Fatalf("DecodeFEC failed: %v", err)
	}
	if fec != "198.51.100.0/24" {
		t.Fatalf("expected 198.51.100.0/24, got %s", fec)
	}
}

func TestDecodeFECWildcard(t *testing.T) {
	var fecTLV []byte
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, TLVFEC)
	fecElement := []byte{1} // type=wildcard, no further bytes
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, uint16(len(fecElement)))
	fecTLV = append(fecTLV, fecElement...)

	fec, err := DecodeFEC(fecTLV)
	if err != nil {
		t.Fatalf("DecodeFEC failed: %v", err)
	}
	if fec != WildcardFEC {
		t.Fatalf("expected WildcardFEC, got %q", fec)
	}
}
