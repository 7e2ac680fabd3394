package swap

import (
	"encoding/base64"
	"testing"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

func TestSameMessageIgnoresSignatures(t *testing.T) {
	msg := []byte{0x80, 1, 0, 1, 2, 3, 4, 5}
	if err := SameMessage(encodeTx(0, msg), encodeTx(0xAB, msg)); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
}

func TestSameMessageDetectsTampering(t *testing.T) {
	err := SameMessage(encodeTx(0, []byte("swap 1 SOL")), encodeTx(0xAB, []byte("swap 9 SOL")))
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSameMessageRejectsGarbage(t *testing.T) {
	if err := SameMessage(encodeTx(0, []byte("m")), "%%%"); !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected invalid input for bad base64, got %v", err)
	}
	truncated := base64.StdEncoding.EncodeToString([]byte{1, 0, 0})
	if err := SameMessage(encodeTx(0, []byte("m")), truncated); !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected invalid input for truncated tx, got %v", err)
	}
}

func TestMessageBytesMultiByteCount(t *testing.T) {
	// 130 signatures: compact-u16 0x82 0x01.
	raw := []byte{0x82, 0x01}
	raw = append(raw, make([]byte, 130*signatureLen)...)
	raw = append(raw, []byte("msg")...)

	got, err := MessageBytes(raw)
	if err != nil {
		t.Fatalf("MessageBytes failed: %v", err)
	}
	if string(got) != "msg" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestMessageBytesZeroSignatures(t *testing.T) {
	if _, err := MessageBytes([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected error for unsigned-count zero")
	}
}
