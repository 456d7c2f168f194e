package xpg

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// Template tokens replaced by Rewrite.
const (
	TokenData   = "__data__"   // col1=%s,col2=%s
	TokenKeys   = "__keys__"   // col1,col2
	TokenValues = "__values__" // %s,%s
)

// Field is one column assignment in a Data set.
type Field struct {
	Key   string
	Value any
}

// Data is an ordered set of column assignments. Passed among the arguments
// of Query, Get, Execute or ExecRowCount, it fills the template tokens
// __data__, __keys__ and __values__.
type Data []Field

// Pairs builds Data from alternating keys and values:
//
//	xpg.Pairs("id", 1, "name", "a")
//
// It panics on an odd argument count or a non-string key.
func Pairs(kv ...any) Data {
	if len(kv)%2 != 0 {
		panic("xpg: Pairs: odd number of arguments")
	}
	d := make(Data, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic("xpg: Pairs: key is not a string")
		}
		d = append(d, Field{Key: k, Value: kv[i+1]})
	}
	return d
}

// DataOf builds Data from a struct (exported fields in declaration order,
// embedded structs flattened, `db` tags honored, `db:"-"` skipped) or from a
// map with string keys (sorted by key).
func DataOf(v any) (Data, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		d := make(Data, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			d = append(d, Field{Key: iter.Key().String(), Value: iter.Value().Interface()})
		}
		sort.Slice(d, func(i, j int) bool { return d[i].Key < d[j].Key })
		return d, nil
	case reflect.Struct:
		var d Data
		seen := make(map[string]struct{})
		if err := addStructFields(&d, seen, rv); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, ErrUnsupportedArg
	}
}

func addStructFields(dst *Data, seen map[string]struct{}, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		if f.PkgPath != "" && !f.Anonymous {
			continue
		}

		// Embedded types: follow pointer chains; skip if nil; flatten fields.
		if f.Anonymous {
			ft := f.Type
			fv := v.Field(i)

			isNil := false
			for ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					isNil = true
					break
				}
				ft = ft.Elem()
				fv = fv.Elem()
			}
			if isNil {
				continue
			}
			if ft.Kind() == reflect.Struct {
				if err := addStructFields(dst, seen, fv); err != nil {
					return err
				}
				continue
			}
			if f.PkgPath != "" {
				continue
			}
		}

		name, _, omit := parseTag(f.Tag.Get("db"))
		if omit {
			continue
		}
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(name)
		if _, exists := seen[key]; exists {
			return xerrors.Errorf("%w: %q", ErrDuplicateKeyTag, key)
		}
		seen[key] = struct{}{}
		*dst = append(*dst, Field{Key: name, Value: v.Field(i).Interface()})
	}
	return nil
}

// Rewrite expands the keyword tokens of template with data and splices the
// data values into args at the position of the first token.
//
// For data {id: 1, name: "a"}:
//
//	__keys__   => id,name
//	__values__ => %s,%s
//	__data__   => id=%s,name=%s
//
// The values are inserted, in declaration order, after the %s markers that
// precede the first __data__ (or, without __data__, the first __values__).
// This lets one Data set serve both shapes:
//
//	INSERT INTO t (__keys__) VALUES (__values__)
//	UPDATE t SET __data__ WHERE id = %s
//
// Tokens inside quoted strings, comments and dollar-quoted bodies are not
// expanded. Empty data returns the inputs unchanged. Data with none of the
// tokens in template returns ErrUnplacedData.
func Rewrite(template string, args []any, data Data) (string, []any, error) {
	if len(data) == 0 {
		return template, args, nil
	}

	keys := make([]string, 0, len(data))
	values := make([]string, 0, len(data))
	assigns := make([]string, 0, len(data))
	vals := make([]any, 0, len(data))
	for _, f := range data {
		keys = append(keys, f.Key)
		values = append(values, Marker)
		assigns = append(assigns, f.Key+"="+Marker)
		vals = append(vals, f.Value)
	}

	marks, err := findMarkers(template)
	if err != nil {
		return "", nil, err
	}
	at, hasKeys := -1, false
	for _, want := range []markerKind{markerData, markerValues} {
		for _, m := range marks {
			if m.kind == want {
				at = m.start
				break
			}
		}
		if at >= 0 {
			break
		}
	}
	for _, m := range marks {
		hasKeys = hasKeys || m.kind == markerKeys
	}
	if at < 0 && !hasKeys {
		return "", nil, ErrUnplacedData
	}

	pos := 0
	if at >= 0 {
		pos = markersBefore(marks, at)
	}
	if pos > len(args) {
		return "", nil, xerrors.Errorf("%w: %d markers before data, %d args", ErrArgCount, pos, len(args))
	}

	expansions := map[markerKind]string{
		markerData:   strings.Join(assigns, ","),
		markerKeys:   strings.Join(keys, ","),
		markerValues: strings.Join(values, ","),
	}
	// Tokens inside literals and comments are left as written.
	var b strings.Builder
	last := 0
	for _, m := range marks {
		if exp, ok := expansions[m.kind]; ok {
			b.WriteString(template[last:m.start])
			b.WriteString(exp)
			last = m.end
		}
	}
	b.WriteString(template[last:])

	out := slices.Insert(slices.Clone(args), pos, vals...)
	return b.String(), out, nil
}

// splitData separates the Data argument, if any, from positional args.
func splitData(args []any) ([]any, Data, error) {
	idx := -1
	for i, a := range args {
		if _, ok := a.(Data); ok {
			if idx >= 0 {
				return nil, nil, ErrMultipleData
			}
			idx = i
		}
	}
	if idx < 0 {
		return args, nil, nil
	}
	rest := make([]any, 0, len(args)-1)
	rest = append(rest, args[:idx]...)
	rest = append(rest, args[idx+1:]...)
	return rest, args[idx].(Data), nil
}
