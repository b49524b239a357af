package bgp

import "strings"

// routeEventAttrKey canonicalizes one RouteEvent's attributes into the
// key used for attribute-set interning. Each community kind is joined
// separately so two updates carrying the same communities in the same
// order dedup to one attrstore entry, while updates differing in any
// one kind (standard, extended, large) intern apart;
// order-insensitive interning would need a sort, which the wire format
// does not otherwise require.
func routeEventAttrKey(ev *RouteEvent) attrKey {
	return attrKey{
		Origin:         originCode(ev.Origin),
		ASPath:         ev.ASPath,
		NextHop:        ev.Nexthop,
		MED:            derefU32(ev.MED),
		LocalPref:      derefU32(ev.LocalPref),
		Community:      strings.Join(ev.CommStd, ","),
		ExtCommunity:   strings.Join(ev.CommExt, ","),
		LargeCommunity: strings.Join(ev.CommLarge, ","),
	}
}

func derefU32(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

func originCode(s string) uint8 {
	switch s {
	case "IGP":
		return 0
	case "EGP":
		return 1
	default:
		return 2 // INCOMPLETE, including any UNKNOWN(n) fallback
	}
}

func asPathLen(asPath string) int {
	if strings.TrimSpace(asPath) == "" {
		return 0
	}
	return len(strings.Fields(asPath))
}

// familyOf maps a RouteEvent's IP version (4 or 6) to the RIB table it
// belongs in.
func familyOf(ipVersion int) string {
	if ipVersion == 6 {
		return AFIPv6
	}
	return AFIPv4
}

// ApplyUpdate translates one decoded BGP UPDATE's route events into RIB
// operations for the given peer, returning the set of prefixes whose
// Loc-RIB entry changed so the caller can flush them southbound under
// their real family.
func (i *Instance) ApplyUpdate(peerAddr string, events []*RouteEvent, localAS uint32) []PrefixRef {
	peer := i.peers[peerAddr]
	var peerType, routerID string
	var peerAS uint32
	if peer != nil {
		peerType = peer.PeerType(localAS)
		peerAS = peer.Config.PeerAS
		routerID = peer.FSM.RemoteRouterID
	}

	var changed []PrefixRef
	for _, ev := range events {
		afi := familyOf(ev.AFI)
		switch ev.Action {
		case "D":
			if i.RIB.Withdraw(peerAddr, afi, ev.Prefix) {
				changed = append(changed, PrefixRef{AFI: afi, Prefix: ev.Prefix})
			}
		default:
			key := routeEventAttrKey(ev)
			path := Path{
				AFI:       afi,
				Prefix:    ev.Prefix,
				PeerAddr:  peerAddr,
				LocalPref: derefU32(ev.LocalPref),
				ASPathLen: asPathLen(ev.ASPath),
				Origin:    originCode(ev.Origin),
				MED:       derefU32(ev.MED),
				NextHop:   ev.Nexthop,
				PeerType:  peerType,
				PeerAS:    peerAS,
				RouterID:  routerID,
			}
			if i.RIB.Update(peerAddr, path, key) {
				changed = append(changed, PrefixRef{AFI: afi, Prefix: ev.Prefix})
			}
		}
	}
	return changed
}
