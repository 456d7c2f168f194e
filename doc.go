/*
Package xpg is a session-oriented PostgreSQL client. It keeps one physical
session alive across failures, injects session state (search path, timezone)
into every statement, expands keyword data into INSERT/UPDATE templates, and
returns rows as ordered mappings.

# Overview

A Conn wraps one physical session opened by a Driver (pgx by default). It
connects lazily: every operation first makes sure a session exists and
reconnects when it does not. You write plain SQL with %s markers; arguments
are rendered as SQL literals client-side and the full statement travels in a
single round trip.

	conn := xpg.Open(ctx, xpg.DefaultConfig())
	defer conn.Close()

	rows, err := conn.Query(ctx, `SELECT id, name FROM users WHERE id > %s`, 10)
	for _, r := range rows {
	    fmt.Println(r.Get("id"), r.Get("name"))
	}

# Session state

Every statement is prefixed with the session directives:

	set timezone = '+00';set search_path = app;SELECT ...

The persistent search path and timezone come from Config and can be changed
with SetSearchPath and SetTimezone. Path sets a search path for the next
statement only:

	conn.Path("tenant_42").Query(ctx, `SELECT * FROM invoices`)

A statement that already starts with "set search_path" gets no search path
prefix.

# Keyword data

A Data value among the arguments fills three template tokens:

	xpg.Pairs("id", 1, "name", "a")

	INSERT INTO t (__keys__) VALUES (__values__)   => INSERT INTO t (id,name) VALUES (%s,%s)
	UPDATE t SET __data__ WHERE id = %s            => UPDATE t SET id=%s,name=%s WHERE id = %s

Values are spliced into the positional arguments at the position of the
first token, in declaration order. DataOf builds Data from a struct using
`db` tags.

# Rows

Row keeps column order. Lookup and Get are keyed access; Attr is
attribute-style access and reports an absent column as
*MissingAttributeError. ScanRow and QueryAs map rows into structs using
`db` tags, with a cached plan per (type, column set).

# Error handling

  - Connectivity failures surface as *OperationalError. The Conn drops the
    session and returns the error; the next call reconnects. Nothing is
    retried.
  - Statement failures (syntax, constraints) are returned as-is and keep the
    session.
  - Get returns ErrMultipleRows for more than one row and nil for none.
  - Caller mistakes (RegisterType arguments, misplaced Data, marker count)
    return sentinel errors usable with errors.Is.

# Concurrency

A Conn is not safe for concurrent use; it has no internal locking. The
one-shot search path set by Path is consumed by whichever statement is built
next. Use one Conn per goroutine.
*/
package xpg
