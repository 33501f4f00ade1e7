package chainexport

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ToOptionalInt returns the integer value of v, or nil when v is falsy.
//
// Falsy means missing, null, false, an empty string, an empty object or
// array, the number 0, or the string "0". An explicit zero is therefore
// indistinguishable from an absent field. No other helper applies this rule.
func ToOptionalInt(v gjson.Result) (*int64, error) {
	if isFalsy(v) {
		return nil, nil
	}
	n, err := parseInt(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// RequireInt returns the integer value of v. Unlike ToOptionalInt a zero
// value is accepted; only absence and unparsable values fail.
func RequireInt(v gjson.Result) (int64, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return 0, NewMalformedInputError("", "is required", nil)
	}
	return parseInt(v)
}

// RequireUint returns the unsigned integer value of v. It is used for block
// heights, versions and other positions that cannot be negative.
func RequireUint(v gjson.Result) (uint64, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return 0, NewMalformedInputError("", "is required", nil)
	}

	var text string
	switch v.Type {
	case gjson.Number:
		text = v.Raw
	case gjson.String:
		text = strings.TrimSpace(v.Str)
	default:
		return 0, NewMalformedInputError("", "is not an unsigned integer", nil)
	}

	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, NewMalformedInputError("", "is not an unsigned integer", err)
	}
	return n, nil
}

// ToCanonicalString reduces v to a single string form. Objects and arrays
// become compact JSON in source key order, strings are returned as is,
// numbers keep the decimal text they were received with. Number text is not
// normalized: 1e3 stays "1e3" and integers wider than a float64 keep every
// digit.
func ToCanonicalString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.JSON:
		return v.Get("@ugly").Raw
	default:
		if v.Exists() {
			return "null"
		}
		return ""
	}
}

// MicrosToSeconds truncates a microsecond timestamp to Unix seconds.
func MicrosToSeconds(micros int64) int64 {
	return micros / 1000000
}

// MillisToSeconds truncates a millisecond timestamp to Unix seconds.
func MillisToSeconds(millis int64) int64 {
	return millis / 1000
}

func isFalsy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		return s == "" || s == "0"
	case gjson.Number:
		return v.Num == 0
	case gjson.JSON:
		if v.IsArray() {
			return len(v.Array()) == 0
		}
		return len(v.Map()) == 0
	}
	return false
}

func parseInt(v gjson.Result) (int64, error) {
	var text string
	switch v.Type {
	case gjson.Number:
		text = v.Raw
	case gjson.String:
		text = strings.TrimSpace(v.Str)
	case gjson.True:
		return 1, nil
	case gjson.False:
		return 0, nil
	default:
		return 0, NewMalformedInputError("", "is not an integer", nil)
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, NewMalformedInputError("", "is not an integer", err)
	}
	return n, nil
}

func parseBool(v gjson.Result) (bool, error) {
	switch v.Type {
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	case gjson.String:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		if err != nil {
			return false, NewMalformedInputError("", "is not a boolean", err)
		}
		return b, nil
	}
	return false, NewMalformedInputError("", "is not a boolean", nil)
}
