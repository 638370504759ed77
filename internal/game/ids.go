package game

import "math/rand"

const idLetters = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandID makes a short prefixed id for ephemeral sessions and entities.
func RandID(prefix string) string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = idLetters[rand.Intn(len(idLetters))]
	}
	return prefix + "-" + string(b)
}
