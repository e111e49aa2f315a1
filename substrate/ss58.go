package substrate

import (
	"github.com/pkg/errors"
	"github.com/vedhavyas/go-subkey/v2"
)

// PolkadotAddressFormat is the SS58 network identifier of the relay chain.
const PolkadotAddressFormat uint16 = 0

const maxAddressFormat = 16383

// EncodeAddress encodes an account id or public key as SS58 for the given network identifier.
// Only 32 and 33 byte keys are accepted, shorter ones use a different checksum length.
func EncodeAddress(key []byte, format uint16) (string, error) {
	if len(key) != 32 && len(key) != 33 {
		return "", errors.Errorf("invalid key length [%d]", len(key))
	}
	if format > maxAddressFormat {
		return "", errors.Errorf("invalid address format [%d]", format)
	}
	return subkey.SS58Encode(key, format), nil
}
