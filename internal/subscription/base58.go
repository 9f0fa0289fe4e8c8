package subscription

import (
	"encoding/base64"

	"github.com/mr-tron/base58"

	"github.com/triarb/engine/internal/arbtypes"
)

func base58Addr(a arbtypes.Token) string {
	return base58.Encode(a[:])
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
