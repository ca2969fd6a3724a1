package auth

import "strings"

const fakeHashPrefix = "$plain$"

// FakeInsecureHasher stores passwords as "$plain$<password>" so sandbox
// tests can create and sign in users without Argon2 cost. Never use it for
// a sandbox reachable from outside the test process.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return fakeHashPrefix + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	stored, ok := strings.CutPrefix(encodedHash, fakeHashPrefix)
	return ok && stored == password
}
