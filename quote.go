package xpg

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/xerrors"
)

// typeMap renders values the literal switch in Adapt does not know about
// (arrays, ranges, pgtype values) through their PostgreSQL text encoding.
// pgtype.Map caches plans internally, so access is serialized.
var (
	typeMap   = pgtype.NewMap()
	typeMapMu sync.Mutex
)

// Adapt renders v as a SQL literal suitable for interpolation into a
// statement. Strings are quoted assuming standard_conforming_strings=on.
func Adapt(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quoteString(x), nil
	case []byte:
		if x == nil {
			return "NULL", nil
		}
		return `'\x` + hex.EncodeToString(x) + `'`, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return quoteNumber(strconv.FormatInt(int64(x), 10)), nil
	case int8:
		return quoteNumber(strconv.FormatInt(int64(x), 10)), nil
	case int16:
		return quoteNumber(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return quoteNumber(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return quoteNumber(strconv.FormatInt(x, 10)), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return quoteFloat(float64(x), 32), nil
	case float64:
		return quoteFloat(x, 64), nil
	case time.Time:
		return quoteString(x.Truncate(time.Microsecond).Format("2006-01-02 15:04:05.999999999Z07:00:00")), nil
	case map[string]string:
		return quoteString(Hstore(x)), nil
	case pgtype.Hstore:
		return quoteString(hstoreNullable(x)), nil
	case map[string]*string:
		return quoteString(hstoreNullable(x)), nil
	case map[string]any:
		m := make(map[string]*string, len(x))
		for k, val := range x {
			if val == nil {
				m[k] = nil
				continue
			}
			sv := fmt.Sprint(val)
			m[k] = &sv
		}
		return quoteString(hstoreNullable(m)), nil
	case driver.Valuer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL", nil
		}
		dv, err := x.Value()
		if err != nil {
			return "", xerrors.Errorf("xpg: adapt %T: %w", v, err)
		}
		return Adapt(dv)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL", nil
		}
		return Adapt(rv.Elem().Interface())
	// Named scalar types such as `type Status string`.
	case reflect.String:
		return quoteString(rv.String()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return quoteNumber(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return quoteFloat(rv.Float(), 32), nil
	case reflect.Float64:
		return quoteFloat(rv.Float(), 64), nil
	}
	return adaptEncoded(v)
}

func adaptEncoded(v any) (string, error) {
	typeMapMu.Lock()
	defer typeMapMu.Unlock()

	t, ok := typeMap.TypeForValue(v)
	if !ok {
		return "", xerrors.Errorf("xpg: adapt: unsupported type %T", v)
	}
	buf, err := typeMap.Encode(t.OID, pgtype.TextFormatCode, v, nil)
	if err != nil {
		return "", xerrors.Errorf("xpg: adapt %T: %w", v, err)
	}
	if buf == nil {
		return "NULL", nil
	}
	return quoteString(string(buf)), nil
}

// Hstore renders m as an hstore literal body: "k"=>"v" pairs joined by
// commas, keys sorted. Embedded quotes and backslashes are escaped.
func Hstore(m map[string]string) string {
	n := make(map[string]*string, len(m))
	for k, v := range m {
		n[k] = &v
	}
	return hstoreNullable(n)
}

// hstoreNullable is Hstore for maps whose nil values render as NULL.
func hstoreNullable(m map[string]*string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(hstoreQuote(k))
		b.WriteString("=>")
		if v := m[k]; v != nil {
			b.WriteString(hstoreQuote(*v))
		} else {
			b.WriteString("NULL")
		}
	}
	return b.String()
}

var hstoreEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func hstoreQuote(s string) string { return `"` + hstoreEscaper.Replace(s) + `"` }

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteNumber keeps a negative literal from merging with a preceding minus
// into a line comment.
func quoteNumber(s string) string {
	if strings.HasPrefix(s, "-") {
		return " " + s
	}
	return s
}

func quoteFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "'NaN'"
	case math.IsInf(f, 1):
		return "'Infinity'"
	case math.IsInf(f, -1):
		return "'-Infinity'"
	}
	return quoteNumber(strconv.FormatFloat(f, 'g', -1, bits))
}
