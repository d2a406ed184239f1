package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one raw roster, queue or slot row. Field names vary by producer, so
// every accessor takes a list of candidate keys and uses the first usable one.
type Row map[string]any

func (r Row) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

// intField reports the first present key's integer value. ok is false when no
// key is present; valid is false when a key is present but not numeric.
func (r Row) intField(keys ...string) (n int, ok bool, valid bool) {
	for _, k := range keys {
		v, present := r[k]
		if !present || v == nil {
			continue
		}
		n, valid = asInt(v)
		return n, true, valid
	}
	return 0, false, false
}

func (r Row) timeField(keys ...string) time.Time {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if t, ok := asTime(v); ok {
			return t
		}
	}
	return time.Time{}
}

func (r Row) strList(keys ...string) []string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var out []string
		switch list := v.(type) {
		case []string:
			for _, s := range list {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		case []any:
			for _, item := range list {
				if s := asString(item); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (r Row) nested(key string) Row {
	switch v := r[key].(type) {
	case Row:
		return v
	case map[string]any:
		return Row(v)
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(math.Floor(t)), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
		if f, err := t.Float64(); err == nil {
			return asInt(f)
		}
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return asInt(f)
		}
	}
	return 0, false
}

// Numbers above this are taken to be unix milliseconds rather than seconds.
const millisThreshold = 1e11

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
		if n, ok := asInt(s); ok {
			return epochTime(int64(n))
		}
	default:
		if n, ok := asInt(v); ok {
			return epochTime(int64(n))
		}
	}
	return time.Time{}, false
}

func epochTime(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > millisThreshold {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

// normalizeRole trims a role name. Reconciliation compares roles exactly after
// trimming; fill-queue matching additionally folds case via roleKey.
func normalizeRole(role string) string {
	return strings.TrimSpace(role)
}

func roleKey(role string) string {
	return strings.ToLower(strings.Join(strings.Fields(role), " "))
}
