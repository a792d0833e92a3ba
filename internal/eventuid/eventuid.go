// Package eventuid строит детерминированный идентификатор события календаря по его содержимому.
//
// Запись сериализуется в канонический JSON (ключи отсортированы, разделители ", " и ": ",
// не-ASCII символы экранируются как \uXXXX, даты в ISO-8601), от байтов UTF-8 берётся SHA-1,
// первые 16 байт дайджеста интерпретируются как UUID. Кодирование совпадает с json.dumps
// из Python с sort_keys=True, поэтому одинаковая запись даёт одинаковый UUID в обеих реализациях.
package eventuid

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// ISOFormatter реализуют значения, которые кодируются строкой ISO-8601 (например, model.Date).
type ISOFormatter interface {
	ISOFormat() string
}

// Generate возвращает идентификатор записи.
func Generate(record map[string]any) (uuid.UUID, error) {
	canonical, err := Canonical(record)
	if err != nil {
		return uuid.Nil, err
	}

	sum := sha1.Sum([]byte(canonical))

	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		return uuid.Nil, fmt.Errorf("build uuid: %w", err)
	}
	return id, nil
}

// Canonical сериализует значение в канонический JSON.
func Canonical(v any) (string, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encode(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case ISOFormatter:
		writeString(b, x.ISOFormat())
	case time.Time:
		writeString(b, isoDateTime(x))
	case string:
		writeString(b, x)
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(x.String())
	case float64:
		b.WriteString(formatFloat(x))
	case float32:
		b.WriteString(formatFloat(float64(x)))
	case int:
		b.WriteString(strconv.Itoa(x))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case map[string]any:
		return encodeObject(b, x)
	case []any:
		return encodeArray(b, x)
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return encodeArray(b, items)
	default:
		return encodeReflect(b, v)
	}
	return nil
}

func encodeObject(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeString(b, k)
		b.WriteString(": ")
		if err := encode(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeArray(b *strings.Builder, items []any) error {
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := encode(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// encodeReflect обрабатывает прочие карты со строковыми ключами и срезы.
func encodeReflect(b *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeObject(b, m)
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return encodeArray(b, items)
	case reflect.String:
		writeString(b, rv.String())
		return nil
	}
	return fmt.Errorf("type %T is not JSON serializable", v)
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r <= 0xffff):
				fmt.Fprintf(b, `\u%04x`, r)
			case r > 0xffff:
				r1, r2 := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, r1, r2)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// formatFloat повторяет repr() для float: фиксированная запись при порядке от -4 до 15.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	exp := strconv.FormatFloat(f, 'e', -1, 64)
	idx := strings.IndexByte(exp, 'e')
	power, _ := strconv.Atoi(exp[idx+1:])
	if power < -4 || power >= 16 {
		return exp
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// isoDateTime повторяет datetime.isoformat(): смещение «+HH:MM», микросекунды только если не нули.
func isoDateTime(t time.Time) string {
	s := t.Format("2006-01-02T15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s + t.Format("-07:00")
}
