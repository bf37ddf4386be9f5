package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

var ErrInvalidParameters = errors.New("invalid parameters")

var parameterKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parameters maps a parameter name to a scalar value: string, float64,
// bool or nil. Agents export each entry as a PARAM_<KEY> environment variable.
type Parameters map[string]any

// NormalizeParameters validates raw against the scalar value union and
// returns the normalized mapping. Numbers of any Go numeric type become
// float64; objects and lists are rejected. Keys that differ only in case
// would export the same variable and are rejected too.
func NormalizeParameters(raw map[string]any) (Parameters, error) {
	params := make(Parameters, len(raw))
	envNames := make(map[string]string, len(raw))
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		value := raw[key]
		if !parameterKey.MatchString(key) {
			return nil, fmt.Errorf("%w: key %q must match %s", ErrInvalidParameters, key, parameterKey)
		}

		upper := strings.ToUpper(key)
		if other, ok := envNames[upper]; ok {
			return nil, fmt.Errorf("%w: keys %q and %q both map to PARAM_%s", ErrInvalidParameters, other, key, upper)
		}
		envNames[upper] = key

		v, err := structpb.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, key, err)
		}

		switch v.GetKind().(type) {
		case *structpb.Value_StructValue, *structpb.Value_ListValue:
			return nil, fmt.Errorf("%w: %s: nested values are not supported", ErrInvalidParameters, key)
		}
		params[key] = v.AsInterface()
	}
	return params, nil
}

// Value encodes the parameters as JSON text for storage.
func (p Parameters) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "", nil
	}
	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan decodes JSON text written by Value. Empty and NULL columns yield an
// empty mapping.
func (p *Parameters) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Parameters{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan parameters: unsupported type %T", src)
	}

	if len(data) == 0 {
		*p = Parameters{}
		return nil
	}

	decoded := make(map[string]any)
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("scan parameters: %w", err)
	}
	*p = decoded
	return nil
}
