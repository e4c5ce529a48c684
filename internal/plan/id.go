package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is a track or clip identifier as written by a model or a client.
// Either form is accepted: 0, 1.0, "1", "A".
type ID struct {
	num   int64
	str   string
	isNum bool
}

// NumID returns a numeric identifier.
func NumID(n int64) ID { return ID{num: n, isNum: true} }

// StrID returns a string identifier.
func StrID(s string) ID { return ID{str: s} }

// IsZero reports whether the identifier was never set.
func (id ID) IsZero() bool { return !id.isNum && id.str == "" }

// Key is the canonical lookup form. Numeric ids and strings holding an
// integral number share a key, so 1, "1" and "1.0" resolve to the same thing.
func (id ID) Key() string {
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	s := strings.TrimSpace(id.str)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	// "1.0" names the same thing as the JSON number 1.0
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// String returns the identifier as the caller wrote it.
func (id ID) String() string {
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// MarshalJSON keeps the original representation.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isNum {
		return []byte(strconv.FormatInt(id.num, 10)), nil
	}
	return json.Marshal(id.str)
}

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StrID(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identifier must be a number or string, got %s", data)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("identifier %s is not an integer", data)
	}
	*id = NumID(int64(f))
	return nil
}
