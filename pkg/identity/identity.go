// Package identity assigns deterministic per-user cursor colors and formats
// display names. Every client derives the same color for the same user id
// without coordination.
package identity

import (
	"hash/fnv"
	"strings"
)

// Palette is the fixed 10-color cursor palette. ColorFor hashes user ids
// into it, so two clients always agree on a user's color.
var Palette = []string{
	"#e6194b", // red
	"#3cb44b", // green
	"#4363d8", // blue
	"#f58231", // orange
	"#911eb4", // purple
	"#42d4f4", // cyan
	"#f032e6", // magenta
	"#9a6324", // brown
	"#808000", // olive
	"#000075", // navy
}

// ColorFor returns the palette color for the given user id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// DisplayName returns the name to show for a user, falling back to an
// id-derived label when the user never set one.
func DisplayName(name, userID string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	suffix := userID
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}
	return "User " + strings.ToUpper(suffix)
}

// Initials returns up to two uppercase initials for avatar badges.
func Initials(name string) string {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "?"
	case 1:
		r := []rune(fields[0])
		return strings.ToUpper(string(r[0]))
	default:
		first := []rune(fields[0])
		last := []rune(fields[len(fields)-1])
		return strings.ToUpper(string(first[0]) + string(last[0]))
	}
}
