package association

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

var ErrInvalidIdentifier = errors.New("identifier must be a JSON string or number")

// Identifier is an opaque id coming from one of the device streams.
// It keeps the canonical JSON literal it was decoded from so that numeric ids
// are forwarded as numbers and string ids as strings.
type Identifier string

func StringID(s string) Identifier {
	b, _ := json.Marshal(s)
	return Identifier(b)
}

func NumberID(n int64) Identifier {
	return Identifier(strconv.FormatInt(n, 10))
}

// String returns the id without JSON quoting, for logs and SQL columns.
func (id Identifier) String() string {
	if len(id) > 0 && id[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(id), &s); err == nil {
			return s
		}
	}
	return string(id)
}

func (id Identifier) IsZero() bool {
	return id == ""
}

func (id Identifier) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

func (id *Identifier) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ErrInvalidIdentifier
	}

	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*id = Identifier(n.String())
		return nil
	default:
		return ErrInvalidIdentifier
	}
}
