// Package policy decides which chat owners may drive swaps.
package policy

import (
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

// CheckOwnerAllowed accepts ownerID when the allowlist is empty, lists it
// exactly, or lists its transport as "<transport>:*".
func CheckOwnerAllowed(allowlist []string, ownerID string) error {
	if len(allowlist) == 0 {
		return nil
	}
	owner := normalize(ownerID)
	transport, _, _ := strings.Cut(owner, ":")
	for _, allowed := range allowlist {
		a := normalize(allowed)
		if a == owner || a == transport+":*" {
			return nil
		}
	}
	return apperr.New(apperr.CodeInvalidInput, "This bot is private. Ask the operator to allow your account.")
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
