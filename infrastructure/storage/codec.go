package storage

import (
	"github.com/fxamacker/cbor/v2"
)

// Values are CBOR encoded with Core Deterministic Encoding so that
// the same record always produces the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	// Unknown fields are ignored so older binaries can read newer records.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Decode is used by inspection tooling to read a raw record value.
func Decode(data []byte) (any, error) {
	var v any
	err := decMode.Unmarshal(data, &v)
	return v, err
}
