package utils

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
	"golang.org/x/text/unicode/norm"
)

// MaxPlayerIDLength bounds a normalised player identifier, in bytes.
const MaxPlayerIDLength = 128

// NormalizePlayerID trims surrounding space and puts the identifier in
// Unicode NFC so visually identical nicknames compare equal. It does not
// fold case: "Kiv1n" and "kiv1n" are different players.
func NormalizePlayerID(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// ValidatePlayerID reports why a normalised identifier cannot be stored.
func ValidatePlayerID(id string) error {
	if id == "" {
		return fmt.Errorf("player id is empty")
	}
	if len(id) > MaxPlayerIDLength {
		return fmt.Errorf("player id %.16q... is longer than %d bytes", id, MaxPlayerIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("player id %q contains control characters", id)
		}
	}
	return nil
}

// TournamentSlug builds the public slug of a tournament, unique because the
// id is part of it.
func TournamentSlug(name string, id uint64) string {
	base := slug.Make(name)
	if base == "" {
		base = "tournament"
	}
	return fmt.Sprintf("%s-%d", base, id)
}
