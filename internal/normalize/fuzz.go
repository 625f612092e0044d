// Fuzz testing for package normalize.

// +build gofuzz

package normalize

func Fuzz(data []byte) int {
	s := string(data)
	Domain(s)
	Passphrase(s)
	StringToCRLF(s)

	return 0
}
