// Package ldp implements the LDP (RFC 5036) control plane: the session
// FSM, PDU types, the label information base, and the northbound/
// event-loop wiring shared with the other protocol packages via
// internal/instance. Structured the same way internal/bgp and
// internal/ospf are: a small typed core plus an Instance that owns one
// event loop per configured [ldp] instance.
package ldp

// PDU message types (RFC 5036 §3.5).
const (
	MsgTypeNotification   uint16 = 0x0001
	MsgTypeHello          uint16 = 0x0100
	MsgTypeInit           uint16 = 0x0200
	MsgTypeKeepAlive      uint16 = 0x0201
	MsgTypeAddress        uint16 = 0x0300
	MsgTypeAddressWithdraw uint16 = 0x0301
	MsgTypeLabelMapping   uint16 = 0x0400
	MsgTypeLabelRequest   uint16 = 0x0401
	MsgTypeLabelWithdraw  uint16 = 0x0402
	MsgTypeLabelRelease   uint16 = 0x0403
	MsgTypeLabelAbort     uint16 = 0x0404
)

// TLV types referenced by the PDUs this package builds (RFC 5036 §3.4).
const (
	TLVFEC             uint16 = 0x0100
	TLVAddressList     uint16 = 0x0101
	TLVHopCount        uint16 = 0x0103
	TLVPathVector      uint16 = 0x0104
	TLVGenericLabel    uint16 = 0x0200
	TLVStatus          uint16 = 0x0300
	TLVCommonHello     uint16 = 0x0400
	TLVCommonSession   uint16 = 0x0500
)

// statusShutdown is the Status TLV value for a Shutdown notification
// (RFC 5036 §3.5.2.1), sent when a non-Hello PDU arrives for a session
// that has not yet reached Operational: such a PDU gets a Shutdown
// NOTIFICATION and the TCP connection is closed.
const statusShutdown uint32 = 0x0000000A

// FEC is a Forwarding Equivalence Class: for the prefix FEC element
// (RFC 5036 §3.4.1) this is just a CIDR prefix string.
type FEC string

// WildcardFEC is the "Wildcard" FEC element (RFC 5036 §3.4.1, FEC TLV
// element type 0x01) that a Label Withdraw or Label Release may carry
// instead of an explicit prefix to mean "every FEC".
const WildcardFEC FEC = "*"

// RawMessage is what a session's transport goroutine posts to the
// PROTO channel: an undecoded PDU plus enough context to attribute it.
type RawMessage struct {
	PeerAddr string
	Data     []byte
}

// LabelMapping is one (FEC, label) binding advertised by a peer
// (RFC 5036 §3.4.1/§3.4.7).
type LabelMapping struct {
	FEC   FEC
	Label uint32
}

// HelloSource identifies where a Hello PDU arrived from: a link-local
// multicast on a configured interface, or a unicast targeted Hello from
// a configured or dynamically-learned peer (RFC 5036 §2.4.2, §2.4.3).
type HelloSource struct {
	PeerAddr   string
	Targeted   bool
	IfName     string // set only for link Hellos
}
