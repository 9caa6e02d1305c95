package talkbase

import "strings"

// RoomID derives the canonical conversation id for a pair of participants:
// the two ids sorted lexicographically and joined with "_". The derivation is
// commutative, so either participant computes the same room id independently.
// Returns ErrInvalidParticipant if either id is empty.
func RoomID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrInvalidParticipant
	}
	if a > b {
		a, b = b, a
	}
	return a + "_" + b, nil
}

// SplitRoomID returns the two participant ids encoded in a room id.
// The second return is false if the id is not a pair id.
func SplitRoomID(roomID string) ([2]string, bool) {
	i := strings.IndexByte(roomID, '_')
	if i <= 0 || i == len(roomID)-1 {
		return [2]string{}, false
	}
	return [2]string{roomID[:i], roomID[i+1:]}, true
}
