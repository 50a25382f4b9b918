package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	nanocoresPerMillicore = 1_000_000
	kibibytesPerMebibyte  = 1024

	nanocoreSuffix = "n"
	kibibyteSuffix = "Ki"
)

// UnitError reports a usage value whose numeric part is not a whole number.
type UnitError struct {
	Field string
	Raw   string
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("invalid %s usage %q: %v", e.Field, e.Raw, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// NanocoresToMillicores converts a nanocore value such as "123456789n" or
// "123456789" into millicores.
func NanocoresToMillicores(raw string) (float64, error) {
	n, err := parseWithSuffix(raw, nanocoreSuffix)
	if err != nil {
		return 0, &UnitError{Field: "cpu", Raw: raw, Err: err}
	}
	return float64(n) / nanocoresPerMillicore, nil
}

// KibibytesToMebibytes converts a kibibyte value such as "2048Ki" or "2048"
// into mebibytes.
func KibibytesToMebibytes(raw string) (float64, error) {
	n, err := parseWithSuffix(raw, kibibyteSuffix)
	if err != nil {
		return 0, &UnitError{Field: "memory", Raw: raw, Err: err}
	}
	return float64(n) / kibibytesPerMebibyte, nil
}

var errNotWhole = errors.New("not a whole number")

// parseWithSuffix trims any trailing run of the suffix characters, so "Ki",
// "KiKi" and "i" all go. Float notation is accepted when it denotes a whole
// number, as JSON encoders may emit large integers as 1.5e+09.
func parseWithSuffix(raw, suffix string) (int64, error) {
	value := strings.TrimRight(strings.TrimSpace(raw), suffix)

	n, err := strconv.ParseInt(value, 10, 64)
	if err == nil {
		return n, nil
	}

	f, ferr := strconv.ParseFloat(value, 64)
	if ferr != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errNotWhole
	}
	return int64(f), nil
}
