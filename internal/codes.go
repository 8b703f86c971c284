package internal

import "crypto/rand"

const (
	roomCodeLength   = 7
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// newRoomCode returns a random 7-character invite code over A-Z0-9. The code
// space is 36^7, so collisions are rare; callers still have to handle them by
// regenerating (see Server.createRoom).
func newRoomCode() string {
	buf := make([]byte, roomCodeLength)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf)
}

// isValidRoomCode reports whether key has the exact invite code shape.
func isValidRoomCode(key string) bool {
	if len(key) != roomCodeLength {
		return false
	}
	for _, c := range key {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
