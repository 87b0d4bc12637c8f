package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/navsql/internal/querysql"
)

// param is the stored form of one bound parameter. V holds the value as
// text so that integers above 2^53 and float bit patterns survive.
type param struct {
	Kind string `json:"k"`
	V    string `json:"v,omitempty"`
}

type secondary struct {
	Field       string                 `json:"field"`
	SQL         string                 `json:"sql"`
	Params      []param                `json:"params"`
	Correlation []querysql.Correlation `json:"correlation"`
	Nested      []secondary            `json:"nested,omitempty"`
}

func encodeParam(v any) (param, error) {
	switch x := v.(type) {
	case nil:
		return param{Kind: "null"}, nil
	case int64:
		return param{Kind: "int", V: strconv.FormatInt(x, 10)}, nil
	case float64:
		return param{Kind: "real", V: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case string:
		return param{Kind: "text", V: x}, nil
	case bool:
		return param{Kind: "bool", V: strconv.FormatBool(x)}, nil
	case time.Time:
		return param{Kind: "time", V: x.Format(time.RFC3339Nano)}, nil
	}
	return param{}, fmt.Errorf("unsupported parameter type %T", v)
}

func decodeParam(p param) (any, error) {
	switch p.Kind {
	case "null":
		return nil, nil
	case "int":
		return strconv.ParseInt(p.V, 10, 64)
	case "real":
		return strconv.ParseFloat(p.V, 64)
	case "text":
		return p.V, nil
	case "bool":
		return strconv.ParseBool(p.V)
	case "time":
		return time.Parse(time.RFC3339Nano, p.V)
	}
	return nil, fmt.Errorf("unknown parameter kind %q", p.Kind)
}

func encodeParams(vs []any) ([]param, error) {
	out := make([]param, 0, len(vs))
	for i, v := range vs {
		p, err := encodeParam(v)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeParams(ps []param) ([]any, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	out := make([]any, 0, len(ps))
	for i, p := range ps {
		v, err := decodeParam(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeSecondaries(secs []querysql.Secondary) ([]secondary, error) {
	out := make([]secondary, 0, len(secs))
	for _, s := range secs {
		ps, err := encodeParams(s.Params)
		if err != nil {
			return nil, fmt.Errorf("secondary %s: %w", s.Field, err)
		}
		nested, err := encodeSecondaries(s.Nested)
		if err != nil {
			return nil, err
		}
		out = append(out, secondary{Field: s.Field, SQL: s.SQL, Params: ps, Correlation: s.Correlation, Nested: nested})
	}
	return out, nil
}

func decodeSecondaries(secs []secondary) ([]querysql.Secondary, error) {
	if len(secs) == 0 {
		return nil, nil
	}
	out := make([]querysql.Secondary, 0, len(secs))
	for _, s := range secs {
		ps, err := decodeParams(s.Params)
		if err != nil {
			return nil, fmt.Errorf("secondary %s: %w", s.Field, err)
		}
		nested, err := decodeSecondaries(s.Nested)
		if err != nil {
			return nil, err
		}
		out = append(out, querysql.Secondary{Field: s.Field, SQL: s.SQL, Params: ps, Correlation: s.Correlation, Nested: nested})
	}
	return out, nil
}

// marshalJSON encodes v as compact JSON TEXT for storage.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // SQL text contains < and >
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func marshalParams(vs []any) (string, error) {
	ps, err := encodeParams(vs)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return marshalJSON(ps)
}

func unmarshalParams(data string) ([]any, error) {
	var ps []param
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return decodeParams(ps)
}

func marshalSecondary(secs []querysql.Secondary) (string, error) {
	enc, err := encodeSecondaries(secs)
	if err != nil {
		return "", fmt.Errorf("marshal secondary: %w", err)
	}
	return marshalJSON(enc)
}

func unmarshalSecondary(data string) ([]querysql.Secondary, error) {
	var secs []secondary
	if err := json.Unmarshal([]byte(data), &secs); err != nil {
		return nil, fmt.Errorf("unmarshal secondary: %w", err)
	}
	return decodeSecondaries(secs)
}
