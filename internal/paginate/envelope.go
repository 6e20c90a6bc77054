// Package paginate walks paginated {results, meta} API responses.
package paginate

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Envelope is the response shape shared by every list endpoint.
type Envelope[T any] struct {
	Meta    Meta `json:"meta"`
	Results []T  `json:"results"`
}

// Meta carries the pagination hints. Any field may be absent.
type Meta struct {
	Name    string `json:"name,omitempty"`
	Website string `json:"website,omitempty"`
	Page    Count  `json:"page"`
	Limit   Count  `json:"limit"`
	Found   Count  `json:"found"`
}

// Count is a lenient integer. The API sends found as a number, a numeric
// string, or a bound like ">1000"; only an exact non-negative integer is Known.
type Count struct {
	N     int
	Known bool
}

// UnmarshalJSON never fails: anything that is not an integer becomes unknown.
func (c *Count) UnmarshalJSON(b []byte) error {
	*c = Count{}

	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil
	}
	*c = Count{N: n, Known: true}
	return nil
}

// MarshalJSON writes the integer, or null when unknown.
func (c Count) MarshalJSON() ([]byte, error) {
	if !c.Known {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(c.N)), nil
}

// Authoritative reports whether the count is a positive integer and can end
// pagination on its own.
func (c Count) Authoritative() bool {
	return c.Known && c.N > 0
}
