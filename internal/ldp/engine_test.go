package ldp

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/southbound"
)

// buildLabelReleasePDU constructs one PDU carrying a single Label
// Release message for the wildcard FEC, matching the wire layout
// DecodePDU/DecodeFEC expect.
func buildLabelReleasePDU(t *testing.T, lsrID [4]byte) []byte {
	t.Helper()

	var fecTLV []byte
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, TLVFEC)
	fecElement := []byte{1} // type=wildcard
	fecTLV = binary.BigEndian.AppendUint16(fecTLV, uint16(len(fecElement)))
	fecTLV = append(fecTLV, fecElement...)

	var msg []byte
	msg = binary.BigEndian.AppendUint16(msg, MsgTypeLabelRelease)
	msg = binary.BigEndian.AppendUint16(msg, uint16(4+len(fecTLV)))
	msg = binary.BigEndian.AppendUint32(msg, 1) // message ID
	msg = append(msg, fecTLV...)

	pdu := make([]byte, pduHeaderSize)
	binary.BigEndian.PutUint16(pdu[0:2], 1)
	binary.BigEndian.PutUint16(pdu[2:4], uint16(6+len(msg)))
	copy(pdu[4:8], lsrID[:])
	binary.BigEndian.PutUint16(pdu[8:10], 0)
	pdu = append(pdu, msg...)
	return pdu
}

func TestInstanceWildcardLabelReleaseClearsAdvertisedLabels(t *testing.T) {
	inst := NewInstance("default", InstanceTree{
		LSRID: "10.0.0.1",
		TargetedPeers: map[string]PeerConfig{
			"10.0.0.4": {Address: "10.0.0.4"},
		},
	}, southbound.NoopFIBWriter{}, zap.NewNop())

	inst.LIB.Advertise("10.0.0.4", LabelMapping{FEC: "203.0.113.0/24", Label: 100})
	inst.LIB.Advertise("10.0.0.4", LabelMapping{FEC: "198.51.100.0/24", Label: 101})
	inst.LIB.Advertise("10.0.0.5", LabelMapping{FEC: "203.0.113.0/24", Label: 200})

	// A Label Release is only acted on over an Operational session, so
	// bring 10.0.0.4's session up before the loop starts.
	sess := inst.sessions["10.0.0.4"]
	sess.FSM.Handle(EvHelloReceived, nil)
	sess.FSM.Handle(EvTCPConnectionUp, nil)
	sess.FSM.Handle(EvInitReceived, nil)
	sess.FSM.Handle(EvKeepAliveReceived, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	go inst.Loop.Run(ctx)

	inst.Loop.ProtoIn <- RawMessage{
		PeerAddr: "10.0.0.4",
		Data:     buildLabelReleasePDU(t, [4]byte{10, 0, 0, 4}),
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, ok4 := inst.LIB.AdvertisedTo("10.0.0.4", "203.0.113.0/24")
		if !ok4 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, ok := inst.LIB.AdvertisedTo("10.0.0.4", "203.0.113.0/24"); ok {
		t.Fatal("expected all of 10.0.0.4's advertised labels removed by wildcard release")
	}
	if _, ok := inst.LIB.AdvertisedTo("10.0.0.4", "198.51.100.0/24"); ok {
		t.Fatal("expected all of 10.0.0.4's advertised labels removed by wildcard release")
	}
	if _, ok := inst.LIB.AdvertisedTo("10.0.0.5", "203.0.113.0/24"); !ok {
		t.Fatal("expected 10.0.0.5's advertised label untouched by 10.0.0.4's release")
	}
}
