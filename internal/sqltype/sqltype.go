// Package sqltype classifies SQL column types so values read over the text
// protocol come back with the Go types the binary protocol yields.
package sqltype

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the Go representation chosen for a SQL column type.
type Kind int

const (
	// KindString is the default for text, dates, and unknown SQL types.
	KindString Kind = iota
	// KindInt represents signed integer types.
	KindInt
	// KindUint represents integer types declared UNSIGNED.
	KindUint
	// KindFloat represents floating-point types.
	KindFloat
	// KindDecimal represents fixed-point types, kept as strings to preserve precision.
	KindDecimal
	// KindBit represents BIT(n), delivered as big-endian bytes.
	KindBit
	// KindJSON represents JSON documents, embedded verbatim in output.
	KindJSON
)

// Classify maps a SQL type name to its Kind. The input is case-insensitive and
// accepts both INFORMATION_SCHEMA DATA_TYPE values and driver type names such
// as "UNSIGNED BIGINT". Size specifiers like (10,2) are ignored.
func Classify(sqlType string) Kind {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	if idx := strings.Index(t, "("); idx != -1 {
		rest := t[idx:]
		t = t[:idx]
		if end := strings.Index(rest, ")"); end != -1 {
			t += rest[end+1:]
		}
	}

	unsigned := false
	fields := strings.Fields(t)
	base := ""
	for _, f := range fields {
		switch f {
		case "UNSIGNED":
			unsigned = true
		case "ZEROFILL", "SIGNED":
		default:
			if base == "" {
				base = f
			}
		}
	}

	switch base {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if unsigned {
			return KindUint
		}
		return KindInt
	case "SERIAL":
		return KindUint
	case "BIT":
		return KindBit
	case "FLOAT", "DOUBLE", "REAL":
		return KindFloat
	case "DECIMAL", "NUMERIC":
		return KindDecimal
	case "JSON":
		return KindJSON
	default:
		return KindString
	}
}

// String returns the kind name used in logs and errors.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindBit:
		return "bit"
	case KindJSON:
		return "json"
	default:
		return "string"
	}
}

// Convert decodes a raw column value of this kind.
func (k Kind) Convert(raw []byte) (any, error) {
	switch k {
	case KindInt:
		v, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", k, raw, err)
		}
		return v, nil
	case KindUint:
		v, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", k, raw, err)
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", k, raw, err)
		}
		return v, nil
	case KindBit:
		if len(raw) > 8 {
			return nil, fmt.Errorf("bit value of %d bytes exceeds 64 bits", len(raw))
		}
		var v uint64
		for _, b := range raw {
			v = v<<8 | uint64(b)
		}
		return v, nil
	case KindJSON:
		if json.Valid(raw) {
			return json.RawMessage(append([]byte(nil), raw...)), nil
		}
		return string(raw), nil
	default:
		return string(raw), nil
	}
}
