package ibus

import "encoding/json"

// IBUS events are internal control-plane traffic with no interop
// requirement pushing toward a binary codec, so encoding/json is the
// wire format.

func MarshalInterface(e InterfaceEvent) ([]byte, error)     { return json.Marshal(e) }
func UnmarshalInterface(b []byte) (InterfaceEvent, error) {
	var e InterfaceEvent
	err := json.Unmarshal(b, &e)
	return e, err
}

func MarshalAddress(e AddressEvent) ([]byte, error) { return json.Marshal(e) }
func UnmarshalAddress(b []byte) (AddressEvent, error) {
	var e AddressEvent
	err := json.Unmarshal(b, &e)
	return e, err
}

func MarshalRedistribute(e RedistributeEvent) ([]byte, error) { return json.Marshal(e) }
func UnmarshalRedistribute(b []byte) (RedistributeEvent, error) {
	var e RedistributeEvent
	err := json.Unmarshal(b, &e)
	return e, err
}

func MarshalRoute(e RouteEvent) ([]byte, error) { return json.Marshal(e) }
func UnmarshalRoute(b []byte) (RouteEvent, error) {
	var e RouteEvent
	err := json.Unmarshal(b, &e)
	return e, err
}
