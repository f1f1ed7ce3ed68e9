package persona

import "strings"

// Persona identifies one of the fixed chat characters the service can
// respond as. The set is closed: routing, storage, and the HTTP surface
// all reject values outside it.
type Persona string

const (
	// Botan covers streaming, social media, and pop culture.
	Botan Persona = "botan"
	// Kasho covers music, career, and life advice.
	Kasho Persona = "kasho"
	// Yuri covers books, writing, and philosophy.
	Yuri Persona = "yuri"
)

// Default is the persona assigned to a user on first contact.
const Default = Botan

func All() []Persona {
	return []Persona{Botan, Kasho, Yuri}
}

func Valid(p Persona) bool {
	switch p {
	case Botan, Kasho, Yuri:
		return true
	}
	return false
}

// Parse matches a token against the persona set, case-insensitively.
func Parse(s string) (Persona, bool) {
	p := Persona(strings.ToLower(strings.TrimSpace(s)))
	if Valid(p) {
		return p, true
	}
	return "", false
}
