//go:build !linux

package sigmask

// numSig covers the BSD signal range 1..31.
const numSig = 32

func verifyCaught(required Set) error {
	return nil
}
