package warehouse

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Wire parameter types.
const (
	TypeString    = "STRING"
	TypeInt64     = "INT64"
	TypeFloat64   = "FLOAT64"
	TypeNumeric   = "NUMERIC"
	TypeBool      = "BOOL"
	TypeTimestamp = "TIMESTAMP"
	TypeDate      = "DATE"
)

const timestampLayout = "2006-01-02 15:04:05.999999-07:00"

// QueryRequest is one parameterised statement. Types overrides the inferred
// wire type per parameter name and is passed through unchecked: a mismatch
// only surfaces as a remote rejection.
type QueryRequest struct {
	Query    string
	Params   map[string]any
	Types    map[string]string
	Location string
}

// QueryParameter is the wire form of one named parameter.
type QueryParameter struct {
	Name           string         `json:"name"`
	ParameterType  ParameterType  `json:"parameterType"`
	ParameterValue ParameterValue `json:"parameterValue"`
}

type ParameterType struct {
	Type string `json:"type"`
}

// ParameterValue holds the string-encoded value; nil Value is SQL NULL.
type ParameterValue struct {
	Value *string `json:"value,omitempty"`
}

// encodeParams serialises params in name order so request bodies are stable.
func encodeParams(params map[string]any, types map[string]string) []QueryParameter {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]QueryParameter, 0, len(names))
	for _, name := range names {
		v := params[name]
		typ := inferType(v)
		if t, ok := types[name]; ok && t != "" {
			typ = t
		}
		out = append(out, QueryParameter{
			Name:           name,
			ParameterType:  ParameterType{Type: typ},
			ParameterValue: ParameterValue{Value: encodeValue(v)},
		})
	}
	return out
}

func inferType(v any) string {
	if _, ok := v.(*time.Time); !ok {
		// Pointers infer from their element type, so a nil *int64 is a NULL INT64.
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return inferType(reflect.Zero(rv.Type().Elem()).Interface())
			}
			return inferType(rv.Elem().Interface())
		}
	}
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt64
	case float32, float64:
		return TypeFloat64
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInt64
		}
		return TypeFloat64
	case bool:
		return TypeBool
	case time.Time, *time.Time:
		return TypeTimestamp
	default:
		return TypeString
	}
}

func encodeValue(v any) *string {
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		if _, ok := v.(*time.Time); !ok {
			return encodeValue(rv.Elem().Interface())
		}
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case time.Time:
		s = x.UTC().Format(timestampLayout)
	case *time.Time:
		s = x.UTC().Format(timestampLayout)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		s = strconv.FormatBool(x)
	case json.Number:
		s = x.String()
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return &s
}
