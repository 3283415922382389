package supervisor

import "math/rand"

// IANA dynamic/private port range.
const (
	portRangeLo = 49152
	portRangeHi = 65535
)

// passwordAlphabet is the character set for generated credentials.
const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Port derives an ephemeral listener port in [49152, 65535]. the random
// source is injected so tests can seed it.
func Port(rnd *rand.Rand) int {
	return portRangeLo + rnd.Intn(portRangeHi-portRangeLo+1)
}

// Password derives a throwaway access credential of exactly n characters
// drawn from [A-Za-z0-9].
func Password(rnd *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = passwordAlphabet[rnd.Intn(len(passwordAlphabet))]
	}
	return string(buf)
}
