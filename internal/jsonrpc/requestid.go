package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is a JSON-RPC id: either a string or an integer.
type RequestID struct {
	str   string
	num   int64
	isStr bool
}

// NumericID returns an integer id.
func NumericID(n int64) *RequestID { return &RequestID{num: n} }

// StringID returns a string id.
func StringID(s string) *RequestID { return &RequestID{str: s, isStr: true} }

// String returns the canonical correlation key for the id. Numeric and string
// ids with the same text collapse to the same key, which is what peers that
// echo ids as strings expect.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = RequestID{str: s, isStr: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		v, err := n.Int64()
		if err != nil {
			return fmt.Errorf("jsonrpc: id must be an integer, got %s", n)
		}
		*id = RequestID{num: v}
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string or number, got %s", string(data))
}
