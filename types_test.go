package xpg

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func strp(s string) *string { return &s }

func TestCastMoney(t *testing.T) {
	cases := map[string]string{
		"$1,234.50": "1234.5",
		"-$3.00":    "-3",
		"12":        "12",
	}
	for in, want := range cases {
		v, err := CastMoney(strp(in))
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		d, ok := v.(decimal.Decimal)
		if !ok {
			t.Fatalf("%s: got %T", in, v)
		}
		if !d.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("%s: got %s want %s", in, d, want)
		}
	}
}

func TestCastMoney_NullAndGarbage(t *testing.T) {
	v, err := CastMoney(nil)
	if v != nil || err != nil {
		t.Fatalf("nil: got (%v, %v)", v, err)
	}
	if _, err := CastMoney(strp("abc")); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestCastNumeric(t *testing.T) {
	v, err := CastNumeric(strp("-12345678901234567890.125"))
	if err != nil {
		t.Fatal(err)
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("got %T", v)
	}
	eq(t, d.String(), "-12345678901234567890.125", "numeric")

	for _, special := range []string{"NaN", "Infinity", "-Infinity"} {
		v, err := CastNumeric(strp(special))
		if err != nil || v != special {
			t.Fatalf("%s: got (%v, %v)", special, v, err)
		}
	}
	if v, err := CastNumeric(nil); v != nil || err != nil {
		t.Fatalf("nil: got (%v, %v)", v, err)
	}
	if _, err := CastNumeric(strp("1.2.3")); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestTypeRegistry_Validation(t *testing.T) {
	cast := func(*string) (any, error) { return nil, nil }
	bad := []TypeEntry{
		{OIDs: nil, Name: "X", Cast: cast},
		{OIDs: []uint32{0}, Name: "X", Cast: cast},
		{OIDs: []uint32{1}, Name: "", Cast: cast},
		{OIDs: []uint32{1}, Name: "X"},
	}
	var r TypeRegistry
	for i, e := range bad {
		if err := r.Add(e); !errors.Is(err, ErrInvalidType) {
			t.Fatalf("case %d: want ErrInvalidType, got %v", i, err)
		}
	}
	if len(r.Entries()) != 0 {
		t.Fatalf("invalid entries were stored: %v", r.Entries())
	}
}

func TestTypeRegistry_InstallOrder(t *testing.T) {
	cast := func(*string) (any, error) { return "x", nil }
	var r TypeRegistry
	oids := []uint32{3802}
	if err := r.Add(TypeEntry{OIDs: oids, Name: "JSONB", Cast: cast}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(TypeEntry{OIDs: []uint32{25, 1043}, Name: "TEXTISH", Cast: cast}); err != nil {
		t.Fatal(err)
	}
	oids[0] = 1 // the registry keeps its own copy

	s := &testSession{casts: make(map[uint32]CastFunc)}
	if err := r.Install(s); err != nil {
		t.Fatal(err)
	}
	want := []string{"MONEY", "NUMERIC", "JSONB", "TEXTISH"}
	if len(s.names) != len(want) {
		t.Fatalf("names = %v", s.names)
	}
	for i := range want {
		eq(t, s.names[i], want[i], "registration order")
	}
	for _, oid := range []uint32{MoneyOID, NumericOID, 3802, 25, 1043} {
		if s.casts[oid] == nil {
			t.Fatalf("oid %d not registered", oid)
		}
	}
	if _, ok := s.casts[1]; ok {
		t.Fatal("registry aliased the caller's oid slice")
	}
}
