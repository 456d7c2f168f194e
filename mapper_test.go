package xpg

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

func colHash(cols []string) uint64 {
	h := fnv.New64a()
	for _, c := range cols {
		_, _ = h.Write([]byte(c))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

/* ---------------------------
   Tests: string/lower/quotes
----------------------------*/

func TestNormalizeAndLower(t *testing.T) {
	cases := map[string]string{
		`"Name"`:        "name",
		"[UPPER]":       "upper",
		"already_ok":    "already_ok",
		"MiXeD_123":     "mixed_123",
		`"miX"`:         "mix",
		"[y]":           "y",
		`"unterminated`: `"unterminated`, // not trimmed; just lower
	}
	for in, want := range cases {
		got := normalizeColAscii(in)
		if got != want {
			t.Fatalf("normalize %q got %q want %q", in, got, want)
		}
	}
	if toLowerAscii("lower") != "lower" {
		t.Fatal("toLowerAscii changed already-lower")
	}
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag    string
		name   string
		inline bool
		omit   bool
	}{
		{"", "", false, false},
		{"-", "", false, true},
		{"col", "col", false, false},
		{",inline", "", true, false},
		{"col,inline", "col", true, false},
		{"inline,col", "col", true, false},
	}
	for _, tc := range tests {
		name, inline, omit := parseTag(tc.tag)
		if name != tc.name || inline != tc.inline || omit != tc.omit {
			t.Fatalf("parseTag %q = (%q,%v,%v), want (%q,%v,%v)",
				tc.tag, name, inline, omit, tc.name, tc.inline, tc.omit)
		}
	}
}

/* ---------------------------
   Struct index & cache
----------------------------*/

func TestBuildStructIndex_InlineAndAnonymous(t *testing.T) {
	type Embedded struct {
		Inner string `db:"inner"`
	}
	type Outer struct {
		ID       int    `db:"id"`
		Embedded        // anonymous → treated as inline
		Skip     string `db:"-"`
		unexp    int    // unexported non-anonymous → ignored
	}

	_ = Outer{unexp: 1}

	fi := buildStructIndex(reflect.TypeOf(Outer{}))
	if _, ok := fi.byName["id"]; !ok {
		t.Fatal("id missing")
	}
	if _, ok := fi.byName["inner"]; !ok {
		t.Fatal("inner missing (inline/embedded)")
	}
	if _, ok := fi.byName["skip"]; ok {
		t.Fatal("skip should be omitted")
	}
	if _, ok := fi.byName["unexp"]; ok {
		t.Fatal("unexported non-anonymous should be ignored")
	}
}

func TestStructIndexCacheAndPlanCacheReuse(t *testing.T) {
	type S struct {
		A int `db:"a"`
	}
	m := NewMapper()

	rt := reflect.TypeOf(S{})
	if m.structIndex(rt) != m.structIndex(rt) {
		t.Fatal("structIndexCache not reused")
	}

	cols := []string{"a"}
	p1, err := m.getPlan(rt, cols, colHash(cols))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := m.getPlan(rt, cols, colHash(cols))
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("planCache not reused")
	}
}

func TestPlan_Struct_StepKinds(t *testing.T) {
	type R struct {
		Name string `db:"name"`
		OK   bool   `db:"ok"`
	}
	cols := []string{"name", "ok", "unmapped"}
	pl, err := NewMapper().getPlan(reflect.TypeOf(R{}), cols, colHash(cols))
	if err != nil {
		t.Fatal(err)
	}
	want := []stepKind{stepField, stepField, stepDrop}
	for i, k := range want {
		if pl.steps[i].kind != k {
			t.Fatalf("step %d kind = %v want %v", i, pl.steps[i].kind, k)
		}
	}
}

func TestPlan_TimeIsWhole(t *testing.T) {
	cols := []string{"ts"}
	pl, err := NewMapper().getPlan(reflect.TypeOf(time.Time{}), cols, colHash(cols))
	if err != nil {
		t.Fatal(err)
	}
	if pl.isStruct || pl.steps[0].kind != stepWhole {
		t.Fatalf("time.Time should map as a single value: %+v", pl)
	}
}

/* ---------------------------
   isStruct / deref / Scanner
----------------------------*/

type scanString string

func (s *scanString) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = scanString(string(v))
		return nil
	case string:
		*s = scanString(v)
		return nil
	default:
		return fmt.Errorf("bad %T", src)
	}
}

func TestTypeHelpers(t *testing.T) {
	type S struct{ A int }
	if !isStruct(reflect.TypeOf(S{})) {
		t.Fatal("isStruct false")
	}
	if derefPtr(reflect.TypeOf(&S{})) != reflect.TypeOf(S{}) {
		t.Fatal("derefPtr wrong")
	}
	if !implementsScanner(reflect.TypeOf(scanString(""))) {
		t.Fatal("implementsScanner false")
	}
}

func TestFieldByPathAlloc(t *testing.T) {
	type Inner struct{ P *int }
	type Outer struct{ I *Inner }

	rv := reflect.New(reflect.TypeOf(Outer{})).Elem()
	dst := fieldByPathAlloc(rv, []int{0, 0}) // Outer.I.P
	if rv.Field(0).IsNil() {
		t.Fatal("fieldByPathAlloc did not allocate the intermediate pointer")
	}
	if !dst.CanSet() || dst.Kind() != reflect.Ptr {
		t.Fatal("final field not settable")
	}
}

/* ---------------------------
   assignValue conversions
----------------------------*/

func TestAssignValue_Conversions(t *testing.T) {
	type MyInt int32
	var (
		s  string
		b  []byte
		i8 int8
		u  uint
		f  float32
		ok bool
		mi MyInt
		p  *int64
		a  any
	)
	set := func(dst any, v any) error {
		return assignValue(reflect.ValueOf(dst).Elem(), v)
	}
	steps := []struct {
		dst any
		v   any
	}{
		{&s, []byte("bytes")},
		{&b, "str"},
		{&i8, int64(12)},
		{&u, "7"},
		{&f, int32(3)},
		{&ok, "true"},
		{&mi, int64(5)},
		{&p, int32(9)},
		{&a, "anything"},
	}
	for _, st := range steps {
		if err := set(st.dst, st.v); err != nil {
			t.Fatalf("assign %T into %T: %v", st.v, st.dst, err)
		}
	}
	if s != "bytes" || string(b) != "str" || i8 != 12 || u != 7 || f != 3 || !ok || mi != 5 || p == nil || *p != 9 || a != "anything" {
		t.Fatalf("bad values: %q %q %d %d %v %v %d %v %v", s, b, i8, u, f, ok, mi, p, a)
	}
}

func TestAssignValue_Errors(t *testing.T) {
	var i8 int8
	if err := assignValue(reflect.ValueOf(&i8).Elem(), int64(300)); err == nil {
		t.Fatal("expected overflow")
	}
	var u uint
	if err := assignValue(reflect.ValueOf(&u).Elem(), int64(-1)); err == nil {
		t.Fatal("expected negative into uint error")
	}
	var ch chan int
	if err := assignValue(reflect.ValueOf(&ch).Elem(), "x"); err == nil {
		t.Fatal("expected unassignable error")
	}
}

func TestAssignValue_DecimalThroughValuer(t *testing.T) {
	var f float64
	if err := assignValue(reflect.ValueOf(&f).Elem(), decimal.RequireFromString("12.25")); err != nil {
		t.Fatal(err)
	}
	if f != 12.25 {
		t.Fatalf("got %v", f)
	}
	var s string
	if err := assignValue(reflect.ValueOf(&s).Elem(), decimal.RequireFromString("1.50")); err != nil {
		t.Fatal(err)
	}
	if s != "1.5" {
		t.Fatalf("got %q", s)
	}
}

func TestScan_NumericIntoDecimal(t *testing.T) {
	type R struct {
		Amount decimal.Decimal  `db:"amount"`
		Price  *decimal.Decimal `db:"price"`
		Cast   decimal.Decimal  `db:"cast"`
		Empty  *decimal.Decimal `db:"empty"`
	}
	cast, err := CastNumeric(strp("7.125"))
	if err != nil {
		t.Fatal(err)
	}
	row := NewRow(
		[]string{"amount", "price", "cast", "empty"},
		[]any{
			pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true},
			pgtype.Numeric{Int: big.NewInt(-3), Exp: 0, Valid: true},
			cast,
			nil,
		},
	)
	got, err := ScanRow[R](row)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("amount = %s", got.Amount)
	}
	if got.Price == nil || !got.Price.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("price = %v", got.Price)
	}
	if !got.Cast.Equal(decimal.RequireFromString("7.125")) {
		t.Fatalf("cast = %s", got.Cast)
	}
	if got.Empty != nil {
		t.Fatalf("empty = %v", got.Empty)
	}
}

/* ---------------------------
   End-to-end scans
----------------------------*/

func TestScan_Struct_ConvertAndDrop(t *testing.T) {
	type R struct {
		Name  string     `db:"name"`
		Age   int32      `db:"age"`
		Ok    bool       `db:"ok"`
		TS    time.Time  `db:"ts"`
		Email scanString `db:"email"` // Scanner field
		Note  *string    `db:"note"`
	}

	now := time.Unix(1700000000, 0).UTC()
	row := NewRow(
		[]string{`"Name"`, "[Age]", "OK", "TS", "EMAIL", "note", "UNMAPPED"},
		[]any{"bob", int64(33), true, now, "bob@x", nil, "ignored"},
	)

	got, err := scanWithMapper[R](NewMapper(), row)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "bob" || got.Age != 33 || !got.Ok || !got.TS.Equal(now) || string(got.Email) != "bob@x" || got.Note != nil {
		t.Fatalf("bad struct scan: %+v", got)
	}
}

func TestScan_Struct_PointerInline_Alloc(t *testing.T) {
	type Org struct {
		OrgID   int64  `db:"org_id"`
		OrgName string `db:"org_name"`
	}
	type Member struct {
		ID    int64  `db:"id"`
		Email string `db:"email"`
		Org   *Org   `db:",inline"`
	}
	row := NewRow([]string{"id", "email", "org_id", "org_name"}, []any{int64(1), "a@x", int64(4), "acme"})

	got, err := scanWithMapper[Member](NewMapper(), row)
	if err != nil {
		t.Fatal(err)
	}
	if got.Org == nil || got.Org.OrgID != 4 || got.Org.OrgName != "acme" {
		t.Fatalf("unexpected org: %+v", got.Org)
	}
}

func TestScan_Primitive_OneColumn(t *testing.T) {
	got, err := scanWithMapper[int64](NewMapper(), NewRow([]string{"n"}, []any{int32(42)}))
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestScan_Primitive_ErrTooManyCols(t *testing.T) {
	_, err := scanWithMapper[int64](NewMapper(), NewRow([]string{"a", "b"}, []any{1, 2}))
	if err == nil {
		t.Fatal("expected error for multiple columns into primitive")
	}
}

func TestScan_ScannerWholeType_OneColumn(t *testing.T) {
	got, err := scanWithMapper[scanString](NewMapper(), NewRow([]string{"s"}, []any{[]byte("hi")}))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestScan_ZeroColumnsError(t *testing.T) {
	_, err := scanWithMapper[struct{}](NewMapper(), NewRow(nil, nil))
	if err == nil || err.Error() != "xpg: row has zero columns" {
		t.Fatalf("unexpected err: %v", err)
	}
}

/* ---------------------------
   JSON bridge Scanner demo
----------------------------*/

type items []string

func (it *items) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("items: %T", src)
	}
	return jsoniter.Unmarshal(b, it)
}

func TestScan_JSONScannerField(t *testing.T) {
	type R struct {
		Items items `db:"items"`
	}
	got, err := ScanRow[R](NewRow([]string{"items"}, []any{`["a","b"]`}))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 2 || got.Items[0] != "a" || got.Items[1] != "b" {
		t.Fatalf("bad items: %+v", got.Items)
	}
}

/* ---------------------------
   Conn helpers
----------------------------*/

type user struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func TestQueryAsAndGetAs(t *testing.T) {
	var n int
	c, _ := newTestConn(t, func(string) ([]Result, error) {
		n++
		if n == 1 {
			return []Result{rowsResult([]string{"id", "name"}, []any{int64(1), "a"}, []any{int64(2), "b"})}, nil
		}
		return []Result{rowsResult([]string{"id", "name"})}, nil
	})
	ctx := context.Background()

	us, err := QueryAs[user](ctx, c, `SELECT id, name FROM users`)
	if err != nil {
		t.Fatal(err)
	}
	if len(us) != 2 || us[1] != (user{2, "b"}) {
		t.Fatalf("users = %+v", us)
	}

	u, err := GetAs[user](ctx, c, `SELECT id, name FROM users WHERE id = %s`, 3)
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Fatalf("want nil for no rows, got %+v", u)
	}
}

func TestScanRows_NilForNil(t *testing.T) {
	got, err := ScanRows[user](nil)
	if err != nil || got != nil {
		t.Fatalf("got (%v, %v)", got, err)
	}
}

/* ---------------------------
   getMapper lazy init
----------------------------*/

func TestGetMapper_Lazy(t *testing.T) {
	m1 := getMapper()
	m2 := getMapper()
	if m1 == nil || m1 != m2 {
		t.Fatal("getMapper not lazy/singleton")
	}
}
