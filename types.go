package xpg

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"
)

// Type oids with built-in casts.
const (
	MoneyOID   = 790
	NumericOID = 1700
)

// CastFunc converts the text form of a column value into a Go value.
// src is nil for SQL NULL.
type CastFunc func(src *string) (any, error)

// TypeEntry is one registered cast.
type TypeEntry struct {
	OIDs []uint32
	Name string
	Cast CastFunc
}

// TypeRegistry holds the casts replayed on every connect, in registration
// order, after the built-in money and numeric casts. Entries are never
// removed.
type TypeRegistry struct {
	entries []TypeEntry
}

// Add validates and appends an entry.
func (r *TypeRegistry) Add(e TypeEntry) error {
	if err := e.validate(); err != nil {
		return err
	}
	e.OIDs = append([]uint32(nil), e.OIDs...)
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns the registered entries in order.
func (r *TypeRegistry) Entries() []TypeEntry {
	return append([]TypeEntry(nil), r.entries...)
}

var builtinTypes = []TypeEntry{
	{OIDs: []uint32{MoneyOID}, Name: "MONEY", Cast: CastMoney},
	{OIDs: []uint32{NumericOID}, Name: "NUMERIC", Cast: CastNumeric},
}

// Install registers the built-in casts and every entry on s.
func (r *TypeRegistry) Install(s Session) error {
	for _, e := range append(builtinTypes, r.entries...) {
		if err := s.RegisterType(e.OIDs, e.Name, e.Cast); err != nil {
			return xerrors.Errorf("register %s: %w", e.Name, err)
		}
	}
	return nil
}

func (e TypeEntry) validate() error {
	if len(e.OIDs) == 0 {
		return xerrors.Errorf("%w: empty oid set", ErrInvalidType)
	}
	for _, oid := range e.OIDs {
		if oid == 0 {
			return xerrors.Errorf("%w: zero oid", ErrInvalidType)
		}
	}
	if e.Name == "" {
		return xerrors.Errorf("%w: empty name", ErrInvalidType)
	}
	if e.Cast == nil {
		return xerrors.Errorf("%w: nil cast for %s", ErrInvalidType, e.Name)
	}
	return nil
}

var moneyCleaner = strings.NewReplacer(",", "", "$", "")

// CastMoney parses a money value such as "$1,234.50" or "-$3.00" into a
// decimal.Decimal.
func CastMoney(src *string) (any, error) {
	if src == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(moneyCleaner.Replace(*src))
	if err != nil {
		return nil, xerrors.Errorf("xpg: cast money %q: %w", *src, err)
	}
	return d, nil
}

// CastNumeric parses a numeric value into a decimal.Decimal. NaN and the
// infinities have no decimal form and come back as their text.
func CastNumeric(src *string) (any, error) {
	if src == nil {
		return nil, nil
	}
	switch *src {
	case "NaN", "Infinity", "-Infinity":
		return *src, nil
	}
	d, err := decimal.NewFromString(*src)
	if err != nil {
		return nil, xerrors.Errorf("xpg: cast numeric %q: %w", *src, err)
	}
	return d, nil
}
