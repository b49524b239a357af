package ospf

import (
	"encoding/binary"
	"fmt"
	"net"
)

// RouterLSALinkType is the Type field of one Router-LSA link (RFC 2328
// §A.4.2).
type RouterLSALinkType uint8

const (
	RouterLinkPointToPoint RouterLSALinkType = 1
	RouterLinkTransit      RouterLSALinkType = 2
	RouterLinkStub         RouterLSALinkType = 3
	RouterLinkVirtual      RouterLSALinkType = 4
)

// RouterLSALink is one decoded link entry from a Router-LSA body.
type RouterLSALink struct {
	Type   RouterLSALinkType
	LinkID string // dotted-quad: neighbor router ID (p2p/virtual), DR address (transit), or network address (stub)
	Data   string // dotted-quad "Link Data": the stub link's network mask; interface address for the other link types
	Metric int
}

func ipString(b []byte) string {
	return net.IP(b).String()
}

// maskPrefixLen converts a dotted-quad network mask into a CIDR prefix
// length, defaulting to a host route if the mask fails to parse as an
// IPv4 address.
func maskPrefixLen(dotted string) int {
	ip := net.ParseIP(dotted)
	if ip == nil {
		return 32
	}
	if v4 := ip.To4(); v4 != nil {
		ones, _ := net.IPMask(v4).Size()
		return ones
	}
	return 32
}

// parseRouterLSABody decodes a Router-LSA body (RFC 2328 §A.4.2): a
// 4-byte header (flags + link count) followed by one 12-byte-plus-TOS
// record per link. TOS metrics are skipped; only the TOS-0 metric
// feeds SPF.
func parseRouterLSABody(body []byte) ([]RouterLSALink, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("ospf: router-lsa body too short (%d bytes)", len(body))
	}
	numLinks := int(binary.BigEndian.Uint16(body[2:4]))
	offset := 4

	links := make([]RouterLSALink, 0, numLinks)
	for n := 0; n < numLinks; n++ {
		if offset+12 > len(body) {
			return links, fmt.Errorf("ospf: router-lsa truncated at link %d", n)
		}
		linkID := body[offset : offset+4]
		linkData := body[offset+4 : offset+8]
		linkType := RouterLSALinkType(body[offset+8])
		numTOS := int(body[offset+9])
		metric := int(binary.BigEndian.Uint16(body[offset+10 : offset+12]))
		offset += 12 + numTOS*4
		if offset > len(body) {
			return links, fmt.Errorf("ospf: router-lsa truncated in TOS block of link %d", n)
		}
		links = append(links, RouterLSALink{
			Type:   linkType,
			LinkID: ipString(linkID),
			Data:   ipString(linkData),
			Metric: metric,
		})
	}
	return links, nil
}

// parseNetworkLSABody decodes a Network-LSA body (RFC 2328 §A.4.3): a
// 4-byte network mask followed by one 4-byte attached-router-ID per
// entry until the body ends.
func parseNetworkLSABody(body []byte) (mask string, attachedRouters []string, err error) {
	if len(body) < 4 {
		return "", nil, fmt.Errorf("ospf: network-lsa body too short (%d bytes)", len(body))
	}
	mask = ipString(body[0:4])
	for offset := 4; offset+4 <= len(body); offset += 4 {
		attachedRouters = append(attachedRouters, ipString(body[offset:offset+4]))
	}
	return mask, attachedRouters, nil
}

// SummaryLSABody is the decoded body of a Type-3 (network summary) or
// Type-4 (ASBR summary) Summary-LSA (RFC 2328 §A.4.3's second form):
// a network mask and the TOS-0 metric, the rest of the TOS block
// ignored.
type SummaryLSABody struct {
	Mask   string
	Metric int
}

func parseSummaryLSABody(body []byte) (SummaryLSABody, error) {
	if len(body) < 8 {
		return SummaryLSABody{}, fmt.Errorf("ospf: summary-lsa body too short (%d bytes)", len(body))
	}
	metric := int(binary.BigEndian.Uint32(body[4:8]) & 0x00FFFFFF)
	return SummaryLSABody{Mask: ipString(body[0:4]), Metric: metric}, nil
}

// ASExternalLSABody is the decoded body of a Type-5 AS-External-LSA
// (RFC 2328 §A.4.5), TOS-0 entry only.
type ASExternalLSABody struct {
	Mask              string
	Metric            int
	ExternalMetricType int // 1 or 2, from the E-bit
	ForwardingAddr    string
	RouteTag          uint32
}

func parseASExternalLSABody(body []byte) (ASExternalLSABody, error) {
	if len(body) < 16 {
		return ASExternalLSABody{}, fmt.Errorf("ospf: as-external-lsa body too short (%d bytes)", len(body))
	}
	word := binary.BigEndian.Uint32(body[4:8])
	metricType := 1
	if word&0x80000000 != 0 {
		metricType = 2
	}
	return ASExternalLSABody{
		Mask:               ipString(body[0:4]),
		Metric:             int(word & 0x00FFFFFF),
		ExternalMetricType: metricType,
		ForwardingAddr:     ipString(body[8:12]),
		RouteTag:           binary.BigEndian.Uint32(body[12:16]),
	}, nil
}

// Grace-LSA TLV types (RFC 3623 §2.2). The restarting router is the
// LSA's own advertising router (the LSA header already carries that),
// so no router-ID TLV is needed.
const (
	GraceTLVPeriod uint16 = 1
	GraceTLVReason uint16 = 2
)

// GraceLSABody is the decoded body of a link-local-scope Grace-LSA.
type GraceLSABody struct {
	Period uint32
	Reason uint8
}

// parseGraceLSABody walks the Grace-LSA's TLVs (Type uint16, Length
// uint16, Value padded to a 4-byte boundary), keeping the two TLVs
// this package understands. Unknown TLVs are skipped, not fatal.
func parseGraceLSABody(body []byte) (GraceLSABody, error) {
	var g GraceLSABody
	offset := 0
	for offset+4 <= len(body) {
		tlvType := binary.BigEndian.Uint16(body[offset : offset+2])
		tlvLen := int(binary.BigEndian.Uint16(body[offset+2 : offset+4]))
		valueStart := offset + 4
		if valueStart+tlvLen > len(body) {
			return g, fmt.Errorf("ospf: grace-lsa TLV truncated at offset %d", offset)
		}
		value := body[valueStart : valueStart+tlvLen]
		switch tlvType {
		case GraceTLVPeriod:
			if len(value) >= 4 {
				g.Period = binary.BigEndian.Uint32(value[0:4])
			}
		case GraceTLVReason:
			if len(value) >= 1 {
				g.Reason = value[0]
			}
		}
		padded := (tlvLen + 3) &^ 3
		offset = valueStart + padded
	}
	return g, nil
}
