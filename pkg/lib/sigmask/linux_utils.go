//go:build linux

package sigmask

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// numSig is the kernel's _NSIG: valid signal numbers are 1..64.
const numSig = 65

const procStatus = "/proc/self/status"

// verifyCaught reads the process dispositions the kernel reports and fails if
// any required signal is ignored or not caught.
func verifyCaught(required Set) error {
	data, err := os.ReadFile(procStatus)
	if err != nil {
		// No procfs this early in boot; nothing to compare against.
		if os.IsNotExist(err) {
			logger.Debugf("%s unavailable, skipping disposition check", procStatus)
			return nil
		}
		return err
	}

	caught, ignored, err := parseSigStatus(data)
	if err != nil {
		return err
	}
	return checkDispositions(required, caught, ignored)
}

func checkDispositions(required Set, caught, ignored uint64) error {
	for _, sig := range required {
		bit := uint64(1) << (uint(sig) - 1)
		if ignored&bit != 0 {
			return fmt.Errorf("signal %d (%v) is ignored", int(sig), sig)
		}
		if caught&bit == 0 {
			return fmt.Errorf("signal %d (%v) is not caught", int(sig), sig)
		}
	}
	return nil
}

// parseSigStatus extracts the SigCgt and SigIgn bitmaps from the content of a
// /proc/<pid>/status file. Lines are split into whitespace separated elements;
// a disposition line is its key element followed by a hex mask.
func parseSigStatus(data []byte) (caught, ignored uint64, err error) {
	var haveCaught, haveIgnored bool

	for _, line := range strings.Split(string(data), "\n") {
		elems := strings.Fields(line)
		if len(elems) < 2 {
			continue
		}
		switch elems[0] {
		case "SigCgt:":
			if caught, err = strconv.ParseUint(elems[1], 16, 64); err != nil {
				return 0, 0, fmt.Errorf("parse SigCgt: %w", err)
			}
			haveCaught = true
		case "SigIgn:":
			if ignored, err = strconv.ParseUint(elems[1], 16, 64); err != nil {
				return 0, 0, fmt.Errorf("parse SigIgn: %w", err)
			}
			haveIgnored = true
		}
	}
	if !haveCaught || !haveIgnored {
		return 0, 0, fmt.Errorf("%s has no signal disposition fields", procStatus)
	}
	return caught, ignored, nil
}
