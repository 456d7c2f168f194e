package xpg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"reflect"
	"strconv"
	"sync"
	"time"
)

// Mapper owns caches. Use the package-level lazy getter (getMapper) or create your own in tests.
type Mapper struct {
	planCache        sync.Map // key: planKey -> *plan   (per (T, column-set))
	structIndexCache sync.Map // key: reflect.Type -> *fieldIndex (per T)
}

func NewMapper() *Mapper { return &Mapper{} }

// --- package-level lazy global mapper (used by ScanRow/QueryAs) ---

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// ScanRow maps a Row into a value of type T.
//
// T may be a struct (supports `db` tags and ,inline), a primitive, or any type
// implementing [sql.Scanner]. Column mapping prefers `db:"name"` tags;
// otherwise it matches case-insensitive field names. Extra columns are
// ignored, missing columns and NULLs leave zero values.
//
// Example:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//	row, err := conn.Get(ctx, `SELECT id, email FROM users WHERE id = %s`, 42)
//	if err != nil || row == nil {
//	    return err
//	}
//	u, err := xpg.ScanRow[User](*row)
func ScanRow[T any](r Row) (T, error) {
	return scanWithMapper[T](getMapper(), r)
}

// ScanRows maps every row into a T.
func ScanRows[T any](rows []Row) ([]T, error) {
	if rows == nil {
		return nil, nil
	}
	m := getMapper()
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := scanWithMapper[T](m, r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// QueryAs runs Conn.Query and maps the rows into T.
func QueryAs[T any](ctx context.Context, c *Conn, query string, args ...any) ([]T, error) {
	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return ScanRows[T](rows)
}

// GetAs runs Conn.Get and maps the row into T. It returns nil when the query
// yields no rows.
func GetAs[T any](ctx context.Context, c *Conn, query string, args ...any) (*T, error) {
	row, err := c.Get(ctx, query, args...)
	if err != nil || row == nil {
		return nil, err
	}
	v, err := ScanRow[T](*row)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// scanWithMapper is the hot path used by ScanRow/ScanRows.
func scanWithMapper[T any](m *Mapper, r Row) (T, error) {
	var zero T

	if r.Len() == 0 {
		return zero, fmt.Errorf("xpg: row has zero columns")
	}

	// Normalize & hash columns
	cols := make([]string, r.Len())
	h := fnv.New64a()
	for i, c := range r.cols {
		cols[i] = normalizeColAscii(c)
		_, _ = h.Write([]byte(cols[i]))
		_, _ = h.Write([]byte{0})
	}
	colHash := h.Sum64()

	rt := reflect.TypeOf((*T)(nil)).Elem()
	pl, err := m.getPlan(rt, cols, colHash)
	if err != nil {
		return zero, err
	}

	rv := reflect.New(rt) // *T
	if err := pl.apply(rv.Elem(), r.vals); err != nil {
		return zero, err
	}
	return rv.Elem().Interface().(T), nil
}

// ---------------- Planning & caches ----------------

type planKey struct {
	rt    reflect.Type
	hash  uint64 // FNV-1a of normalized columns
	ncols int
}

type plan struct {
	rt       reflect.Type
	steps    []step // one per column
	isStruct bool
}

type stepKind uint8

const (
	stepDrop  stepKind = iota // column has no destination
	stepField                 // assign into a struct field
	stepWhole                 // assign into T itself (single column)
)

type step struct {
	kind  stepKind
	fpath []int // for struct fields
	name  string
}

func (m *Mapper) getPlan(rt reflect.Type, cols []string, colHash uint64) (*plan, error) {
	key := planKey{rt: rt, hash: colHash, ncols: len(cols)}
	if v, ok := m.planCache.Load(key); ok {
		return v.(*plan), nil
	}

	p := &plan{
		rt:       rt,
		isStruct: isStruct(rt) && !implementsScanner(rt) && derefPtr(rt) != timeType,
	}

	if p.isStruct {
		indexer := m.structIndex(rt)
		p.steps = make([]step, len(cols))
		for i, c := range cols {
			if fp, ok := indexer.byName[c]; ok {
				p.steps[i] = step{kind: stepField, fpath: fp, name: c}
			} else {
				p.steps[i] = step{kind: stepDrop}
			}
		}
	} else {
		if len(cols) != 1 {
			return nil, fmt.Errorf("xpg: cannot map %d columns into %s; use a struct", len(cols), rt)
		}
		p.steps = []step{{kind: stepWhole, name: cols[0]}}
	}

	m.planCache.Store(key, p)
	return p, nil
}

type fieldIndex struct {
	byName map[string][]int // lower-case column name -> index path
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	m.structIndexCache.Store(rt, &fi)
	return &fi
}

// apply assigns vals into dst (a settable T) following the plan.
func (p *plan) apply(dst reflect.Value, vals []any) error {
	if !p.isStruct {
		if err := assignValue(dst, vals[0]); err != nil {
			return fmt.Errorf("xpg: column %s: %w", p.steps[0].name, err)
		}
		return nil
	}

	root := dst
	for root.Kind() == reflect.Ptr {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	for i, st := range p.steps {
		if st.kind != stepField || i >= len(vals) {
			continue
		}
		if vals[i] == nil {
			continue
		}
		fv := fieldByPathAlloc(root, st.fpath)
		if err := assignValue(fv, vals[i]); err != nil {
			return fmt.Errorf("xpg: column %s: %w", st.name, err)
		}
	}
	return nil
}

// ---------------- Struct indexing & tags ----------------

func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}
	seen := make(map[string]struct{})

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		n := t.NumField()
		for i := 0; i < n; i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous { // unexported, non-anonymous
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			ft := sf.Type
			path := append(append([]int(nil), base...), i)

			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isStruct(ft) || (ft.Kind() == reflect.Ptr && isStruct(ft.Elem())) {
					walk(ft, path, inline)
					continue
				}
			}
			if name == "" {
				name = sf.Name
			}
			lc := toLowerAscii(name)
			if _, ok := seen[lc]; !ok {
				idx.byName[lc] = path
				seen[lc] = struct{}{}
			}
		}
	}
	walk(rt, nil, false)
	return idx
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return "", false, false
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// ---------------- Value assignment ----------------

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// assignValue stores the decoded column value v into dst, converting
// between compatible kinds. dst must be settable.
func assignValue(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	sv := reflect.ValueOf(v)
	dt := dst.Type()
	if sv.Type().AssignableTo(dt) {
		dst.Set(sv)
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		// Scanners accept driver values, so pgtype values are unwrapped first.
		if valuer, ok := v.(driver.Valuer); ok {
			dv, err := valuer.Value()
			if err != nil {
				return err
			}
			v = dv
		}
		return dst.Addr().Interface().(sql.Scanner).Scan(v)
	}
	if dt.Kind() == reflect.Ptr {
		elem := reflect.New(dt.Elem())
		if err := assignValue(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if dt.Kind() == reflect.Interface && sv.Type().Implements(dt) {
		dst.Set(sv)
		return nil
	}

	switch dt.Kind() {
	case reflect.String:
		switch x := v.(type) {
		case []byte:
			dst.SetString(string(x))
			return nil
		case fmt.Stringer:
			if sv.Kind() != reflect.String {
				dst.SetString(x.String())
				return nil
			}
		}
		if sv.Kind() == reflect.String {
			dst.SetString(sv.String())
			return nil
		}
	case reflect.Slice:
		if dt.Elem().Kind() == reflect.Uint8 && sv.Kind() == reflect.String {
			dst.SetBytes([]byte(sv.String()))
			return nil
		}
	case reflect.Bool:
		if sv.Kind() == reflect.Bool {
			dst.SetBool(sv.Bool())
			return nil
		}
		if sv.Kind() == reflect.String {
			b, err := strconv.ParseBool(sv.String())
			if err != nil {
				return err
			}
			dst.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch sv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return setInt(dst, sv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return setInt(dst, int64(sv.Uint()))
		case reflect.String:
			n, err := strconv.ParseInt(sv.String(), 10, 64)
			if err != nil {
				return err
			}
			return setInt(dst, n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch sv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if sv.Int() < 0 {
				return fmt.Errorf("negative value %d into %s", sv.Int(), dt)
			}
			return setUint(dst, uint64(sv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return setUint(dst, sv.Uint())
		case reflect.String:
			n, err := strconv.ParseUint(sv.String(), 10, 64)
			if err != nil {
				return err
			}
			return setUint(dst, n)
		}
	case reflect.Float32, reflect.Float64:
		switch sv.Kind() {
		case reflect.Float32, reflect.Float64:
			dst.SetFloat(sv.Float())
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			dst.SetFloat(float64(sv.Int()))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst.SetFloat(float64(sv.Uint()))
			return nil
		case reflect.String:
			f, err := strconv.ParseFloat(sv.String(), dt.Bits())
			if err != nil {
				return err
			}
			dst.SetFloat(f)
			return nil
		}
	}

	// Decoded values such as pgtype.Numeric or decimal.Decimal expose a
	// driver value that the kinds above understand.
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return err
		}
		if dv != nil && reflect.TypeOf(dv) != sv.Type() {
			return assignValue(dst, dv)
		}
	}
	if sv.Type().ConvertibleTo(dt) && sv.Kind() == dt.Kind() {
		dst.Set(sv.Convert(dt))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dt)
}

func setInt(dst reflect.Value, n int64) error {
	if dst.OverflowInt(n) {
		return fmt.Errorf("value %d overflows %s", n, dst.Type())
	}
	dst.SetInt(n)
	return nil
}

func setUint(dst reflect.Value, n uint64) error {
	if dst.OverflowUint(n) {
		return fmt.Errorf("value %d overflows %s", n, dst.Type())
	}
	dst.SetUint(n)
	return nil
}

// ---------------- Type helpers ----------------

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct }

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

// fieldByPathAlloc walks fpath, allocating nil pointers on the way so the
// final field is addressable. The final field itself is left as is.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
	}
	return string(b)
}
