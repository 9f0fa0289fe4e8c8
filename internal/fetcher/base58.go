package fetcher

import "github.com/mr-tron/base58"

func base58EncodeAddr(a [32]byte) string {
	return base58.Encode(a[:])
}

func decodeBase58Addr(s string) ([32]byte, error) {
	var out [32]byte
	b, err := base58.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errShortAddr
	}
	copy(out[:], b)
	return out, nil
}

var errShortAddr = shortAddrError{}

type shortAddrError struct{}

func (shortAddrError) Error() string { return "fetcher: decoded address is not 32 bytes" }
