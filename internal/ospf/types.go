// Package ospf implements the OSPFv2 (RFC 2328) and OSPFv3 (RFC 5340)
// control plane: interface and neighbor state machines, the link-state
// database, SPF, and the northbound/event-loop wiring shared with the
// other protocol packages via internal/instance. Structured the same
// way internal/bgp is: a small typed core (LSAs, FSM states) plus an
// Instance that owns one event loop per configured [ospf] instance.
package ospf

import "fmt"

// LSType is an OSPFv2 LSA type code (RFC 2328 §A.4.1), also used as the
// low 13 bits of an OSPFv3 Extended-LSA function code (RFC 8362 §3).
type LSType uint16

const (
	LSTypeRouter   LSType = 1
	LSTypeNetwork  LSType = 2
	LSTypeSummary  LSType = 3
	LSTypeASBRSumm LSType = 4
	LSTypeExternal LSType = 5
	LSTypeNSSA     LSType = 7
	// LSTypeGrace is the link-local-scope Opaque LSA type RFC 3623 §2.2
	// uses to carry a Grace-LSA (Opaque type 9, opaque-type 3 folded into
	// one code here since this package doesn't model generic Opaque LSAs).
	LSTypeGrace LSType = 9
)

func (t LSType) String() string {
	switch t {
	case LSTypeRouter:
		return "Router"
	case LSTypeNetwork:
		return "Network"
	case LSTypeSummary:
		return "Summary"
	case LSTypeASBRSumm:
		return "ASBRSummary"
	case LSTypeExternal:
		return "ASExternal"
	case LSTypeNSSA:
		return "NSSA"
	case LSTypeGrace:
		return "Grace"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(t))
	}
}

// LSID identifies one LSA instance within the LSDB: (type, link-state
// id, advertising router). OSPFv3 folds type into the low 13 bits of a
// 16-bit function code with a U-bit and 2-bit scope on top (RFC 8362
// §3); DecomposeV3Type/ComposeV3Type do that translation so the rest of
// the package works in terms of the plain LSType+scope pair either
// version uses.
type LSID struct {
	Type     LSType
	LinkID   string // dotted-quad, OSPFv2 Link State ID or OSPFv3 equivalent
	AdvRtr   string // dotted-quad router ID
}

// V3Scope is the 2-bit scope field OSPFv3 packs into the LS type
// (RFC 5340 §A.4.2.1 / RFC 8362 §3).
type V3Scope uint8

const (
	ScopeLinkLocal V3Scope = 0
	ScopeArea      V3Scope = 1
	ScopeAS        V3Scope = 2
)

// DecomposeV3Type splits an OSPFv3 16-bit LS type field into its U-bit
// (treat-unknown-as-having-link-local-flooding-scope), 13-bit function
// code, and 2-bit scope, per RFC 8362 §3's bit layout:
//
//	bit 15: U-bit
//	bits 14-13: scope
//	bits 12-0: function code (== LSType for the types this package knows)
func DecomposeV3Type(raw uint16) (uBit bool, functionCode LSType, scope V3Scope) {
	uBit = raw&0x8000 != 0
	scope = V3Scope((raw >> 13) & 0x03)
	functionCode = LSType(raw & 0x1FFF)
	return
}

// ComposeV3Type packs a function code and scope (and U-bit) back into
// the 16-bit OSPFv3 LS type field.
func ComposeV3Type(uBit bool, functionCode LSType, scope V3Scope) uint16 {
	var raw uint16
	if uBit {
		raw |= 0x8000
	}
	raw |= uint16(scope&0x03) << 13
	raw |= uint16(functionCode) & 0x1FFF
	return raw
}

// LSA is the header plus opaque body of one link-state advertisement.
// The decision process and flooding logic only ever need the header
// fields (age, sequence, checksum) and identity; body is kept as raw
// bytes and decoded lazily by callers that need link/prefix details.
type LSA struct {
	ID        LSID
	Age       uint16
	SeqNum    uint32
	Checksum  uint16
	Body      []byte
	AreaID    string // "" for AS-scope (type 5) LSAs
}

// Key returns the comparable identity LSDB/attrstore keys an LSA by.
func (l LSA) Key() LSID { return l.ID }

// InitialSequence is the RFC 2328 §12.1.6 first-instance sequence
// number; MaxSequence wraps flooding of a too-old instance.
const (
	InitialSequence uint32 = 0x80000001
	MaxSequence     uint32 = 0x7FFFFFFF
	MaxAge          uint16 = 3600 // seconds, RFC 2328 §13.2
)

// IsMoreRecent reports whether a is a more recent instance of the same
// LSA than b, per RFC 2328 §13.1's three-step comparison: higher
// sequence number (compared as signed 32-bit values, so InitialSequence
// ranks below MaxSequence), else higher checksum, else (one is MaxAge
// and the other isn't) with MaxAge always winning.
func IsMoreRecent(a, b LSA) bool {
	if a.SeqNum != b.SeqNum {
		return int32(a.SeqNum) > int32(b.SeqNum)
	}
	if a.Checksum != b.Checksum {
		return a.Checksum > b.Checksum
	}
	aMax := a.Age == MaxAge
	bMax := b.Age == MaxAge
	if aMax != bMax {
		return aMax
	}
	return false
}
