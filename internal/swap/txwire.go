package swap

import (
	"bytes"
	"encoding/base64"
	"fmt"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

const signatureLen = 64

// MessageBytes strips the signature section from a serialized Solana
// transaction: a compact-u16 count followed by that many 64-byte signatures.
func MessageBytes(raw []byte) ([]byte, error) {
	count, n, err := readShortVec(raw)
	if err != nil {
		return nil, err
	}
	start := n + count*signatureLen
	if count == 0 || start >= len(raw) {
		return nil, fmt.Errorf("transaction truncated: %d signatures, %d bytes", count, len(raw))
	}
	return raw[start:], nil
}

// SameMessage verifies signedB64 carries exactly the message of unsignedB64.
// Signatures are ignored.
func SameMessage(unsignedB64, signedB64 string) error {
	unsigned, err := decodeMessage(unsignedB64)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "stored transaction is malformed", err)
	}
	signed, err := decodeMessage(signedB64)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "signed transaction is malformed", err)
	}
	if !bytes.Equal(unsigned, signed) {
		return apperr.New(apperr.CodeInvalidInput, "signed transaction does not match the reviewed swap")
	}
	return nil
}

func decodeMessage(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return MessageBytes(raw)
}

func readShortVec(b []byte) (int, int, error) {
	val := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("short vec truncated")
		}
		val |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return val, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("short vec too long")
}
