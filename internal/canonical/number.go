package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

// errInexactNumber marks a JSON number that float64 cannot hold, so RFC 8785
// would rewrite it to a different value.
var errInexactNumber = errors.New("number cannot be represented exactly")

// checkNumbers walks raw JSON and fails on the first number that does not
// survive a float64 round trip. 0.1 passes: its shortest float64 rendering
// is 0.1 again. 9007199254740993 fails: it comes back as ...992.
func checkNumbers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if n, ok := tok.(json.Number); ok && !exactNumber(string(n)) {
			return fmt.Errorf("%w: %s", errInexactNumber, n)
		}
	}
}

func exactNumber(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	if f == 0 {
		return zeroMantissa(s)
	}
	want, ok := new(big.Rat).SetString(s)
	if !ok {
		return false
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	return ok && want.Cmp(got) == 0
}

// zeroMantissa reports whether every digit before the exponent is 0. It keeps
// underflowing literals like 1e-999999999 away from big.Rat.
func zeroMantissa(s string) bool {
	for _, c := range s {
		switch {
		case c == 'e' || c == 'E':
			return true
		case c >= '1' && c <= '9':
			return false
		}
	}
	return true
}
