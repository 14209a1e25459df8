package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(AnnounceWire{})
}

// AnnounceWire advertises that NodeID serves Service from Peer at Addrs.
type AnnounceWire struct {
	Service string
	NodeID  string
	Peer    string   // peer.ID, base58
	Addrs   []string // multiaddrs the peer listens on
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
