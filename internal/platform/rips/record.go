package rips

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Record maps field names to raw values. Accepted value types are string,
// json.Number, the Go integer and float types, time.Time and Placeholder.
// A record belongs to exactly one file type; fields unknown to that file
// type's schema are ignored.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// PlaceholderText is the wire form of Placeholder.
const PlaceholderText = "<<PENDIENTE>>"

// Placeholder marks a value the migrator could not supply. It always fails
// validation until a person replaces it.
type Placeholder struct{}

func (Placeholder) String() string { return PlaceholderText }

// MarshalJSON renders the placeholder as PlaceholderText.
func (Placeholder) MarshalJSON() ([]byte, error) { return json.Marshal(PlaceholderText) }

// IsPlaceholder reports whether v is the sentinel in either form.
func IsPlaceholder(v any) bool {
	switch t := v.(type) {
	case Placeholder, *Placeholder:
		return true
	case string:
		return strings.TrimSpace(t) == PlaceholderText
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case json.Number:
		return strings.TrimSpace(string(t)) == ""
	case time.Time:
		return t.IsZero()
	}
	return false
}

var (
	numberPattern   = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	exponentPattern = regexp.MustCompile(`^([0-9]+)(?:\.([0-9]+))?[eE]([+-]?[0-9]{1,3})$`)
)

// maxExponent bounds the expansion of exponent notation. Anything larger
// cannot fit a RIPS number field anyway.
const maxExponent = 64

// canonicalNumber normalizes non-negative decimal text: surrounding space
// and leading integer zeros are removed, and exponent notation such as 1e3
// is expanded to plain digits.
func canonicalNumber(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := exponentPattern.FindStringSubmatch(s); m != nil {
		expanded, err := expandExponent(m[1], m[2], m[3])
		if err != nil {
			return "", fmt.Errorf("%q: %w", s, err)
		}
		s = expanded
	}
	if !numberPattern.MatchString(s) {
		return "", fmt.Errorf("%q is not a non-negative number", s)
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if hasFrac {
		return intPart + "." + frac, nil
	}
	return intPart, nil
}

// expandExponent shifts the decimal point of intPart.frac by exp places.
// Trailing fractional zeros are dropped so 2.50e1 reads 25.
func expandExponent(intPart, frac, exp string) (string, error) {
	e, err := strconv.Atoi(exp)
	if err != nil {
		return "", err
	}
	if e > maxExponent || e < -maxExponent {
		return "", fmt.Errorf("exponent %d out of range", e)
	}
	digits := intPart + frac
	point := len(intPart) + e
	switch {
	case point <= 0:
		digits = strings.Repeat("0", 1-point) + digits
		point = 1
	case point > len(digits):
		digits += strings.Repeat("0", point-len(digits))
	}
	whole, rest := digits[:point], strings.TrimRight(digits[point:], "0")
	if rest == "" {
		return whole, nil
	}
	return whole + "." + rest, nil
}

func numberText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return canonicalNumber(t)
	case json.Number:
		return canonicalNumber(string(t))
	case int:
		return intText(int64(t))
	case int32:
		return intText(int64(t))
	case int64:
		return intText(t)
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return floatText(float64(t))
	case float64:
		return floatText(t)
	}
	return "", fmt.Errorf("unsupported numeric value of type %T", v)
}

func intText(n int64) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("%d is not a non-negative number", n)
	}
	return strconv.FormatInt(n, 10), nil
}

func floatText(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return "", fmt.Errorf("%v is not a non-negative number", f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func dateText(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(dateLayout), nil
	case string:
		s := strings.TrimSpace(t)
		if len(s) != len(dateLayout) {
			return "", fmt.Errorf("%q does not match %s", t, DateFormat)
		}
		parsed, err := time.Parse(dateLayout, s)
		if err != nil || parsed.Format(dateLayout) != s {
			return "", fmt.Errorf("%q does not match %s", t, DateFormat)
		}
		return s, nil
	}
	return "", fmt.Errorf("unsupported date value of type %T", v)
}

func stringText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return string(t), nil
	case time.Time:
		return t.Format(dateLayout), nil
	case fmt.Stringer:
		return t.String(), nil
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("unsupported text value of type %T", v)
}

// FormatValue renders v as the canonical text for field f: numbers without
// leading zeros, dates as YYYY-MM-DD and strings unchanged. It fails when v
// does not conform to the field kind.
func FormatValue(f FieldSpec, v any) (string, error) {
	switch f.Kind {
	case KindNumber:
		return numberText(v)
	case KindDate:
		return dateText(v)
	case KindString:
		return stringText(v)
	}
	return "", fmt.Errorf("field %s: invalid kind %d", f.Name, int(f.Kind))
}

// valueLength is the serialized length of canonical text: characters, not
// bytes, so accented names count once per letter.
func valueLength(text string) int {
	return utf8.RuneCountInString(text)
}

// valueText is the lenient string view used by business rules. It never
// fails; values that cannot be rendered yield ok=false.
func valueText(r Record, name string) (string, bool) {
	v, ok := r[name]
	if !ok || isEmpty(v) || IsPlaceholder(v) {
		return "", false
	}
	s, err := stringText(v)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func valueNumber(r Record, name string) (float64, bool) {
	v, ok := r[name]
	if !ok || isEmpty(v) || IsPlaceholder(v) {
		return 0, false
	}
	s, err := numberText(v)
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func valueDate(r Record, name string) (time.Time, bool) {
	v, ok := r[name]
	if !ok || isEmpty(v) || IsPlaceholder(v) {
		return time.Time{}, false
	}
	s, err := dateText(v)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
