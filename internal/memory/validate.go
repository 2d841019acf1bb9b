package memory

import (
	"fmt"

	"github.com/Tola-byte/kela/internal/memerr"
)

// ValidateNewEntry checks the bounds spec.md section 3 declares for a
// not-yet-persisted entry's user-supplied fields.
func ValidateNewEntry(userID string, contentType ContentType, title, content string) error {
	if userID == "" {
		return memerr.ValidationFailed("memory.ValidateNewEntry", fmt.Errorf("user_id is required"))
	}
	if !contentType.Valid() {
		return memerr.ValidationFailed("memory.ValidateNewEntry", fmt.Errorf("invalid content_type %q", contentType))
	}
	tlen := len([]rune(title))
	if tlen < MinTitleLen || tlen > MaxTitleLen {
		return memerr.ValidationFailed("memory.ValidateNewEntry", fmt.Errorf("title length %d out of bounds [%d,%d]", tlen, MinTitleLen, MaxTitleLen))
	}
	if len([]rune(content)) > MaxContentLen {
		return memerr.ValidationFailed("memory.ValidateNewEntry", fmt.Errorf("content length exceeds %d", MaxContentLen))
	}
	return nil
}

// ClampDecay enforces the decay floor invariant (spec.md section 3, invariant 4).
func ClampDecay(v float64) float64 {
	if v < DecayFloor {
		return DecayFloor
	}
	if v > DecayInitial {
		return DecayInitial
	}
	return v
}
