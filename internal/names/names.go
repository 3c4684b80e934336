// Package names hands out display names for anonymous clients.
package names

import "math/rand/v2"

var pool = []string{
	"Pikachu",
	"Snorlax",
	"Magikarp",
	"Garchomp",
	"Wobbuffet",
	"Bidoof",
	"Ducklett",
	"Goomy",
	"Quagsire",
	"Bewear",
}

// Pool returns a copy of the available names.
func Pool() []string {
	return append([]string(nil), pool...)
}

// Random returns a name from the pool. Names are not unique; clients are told
// apart by id.
func Random() string {
	return pool[rand.IntN(len(pool))]
}
