package model

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/JonMunkholm/docmapper/internal/convert"
)

// Coerce converts v to the Go representation of the attribute's kind:
// string, int64, float64, bool, time.Time, or *Entity for refs.
// Nil stays nil.
func Coerce(a *Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	var (
		out any
		ok  bool
	)

	switch a.Kind {
	case KindText:
		out, ok = toText(v), true
	case KindInt:
		out, ok = toInt(v)
	case KindFloat:
		out, ok = toFloat(v)
	case KindBool:
		out, ok = toBool(v)
	case KindTime:
		out, ok = toTime(v)
	case KindRef:
		e, isEntity := v.(*Entity)
		ok = isEntity && e != nil && (a.target == nil || e.Type == a.target)
		out = e
	}

	if !ok {
		return nil, fmt.Errorf("%w for %s attribute %q: %v", ErrInvalidValue, a.Kind, a.Name, v)
	}
	return out, nil
}

// CoerceValues coerces every value against the attributes of t.
func CoerceValues(t *EntityType, values Values) (Values, error) {
	out := make(Values, len(values))
	for name, v := range values {
		a, err := t.Attribute(name)
		if err != nil {
			return nil, err
		}
		cv, err := Coerce(a, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *Entity:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		return convert.ParseInt(x)
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		return convert.ParseNumeric(x)
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case int:
		return x != 0, true
	case string:
		return convert.ParseBool(x)
	}
	return false, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return convert.ParseDate(x)
	}
	return time.Time{}, false
}
