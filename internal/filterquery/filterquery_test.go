package filterquery

import (
	"strings"
	"testing"
)

var sendsEntity = Entity{
	Table: "sends",
	Fields: map[string]string{
		"source":      "source",
		"destination": "destination",
		"asset":       "asset",
		"amount":      "amount",
		"block_index": "block_index",
	},
}

func TestCompileSimpleEquality(t *testing.T) {
	where, args, err := Compile(sendsEntity, Query{
		Filters: []Filter{{Field: "source", Op: Eq, Value: "alice"}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if where != "source = ?" {
		t.Fatalf("where = %q", where)
	}
	if len(args) != 1 || args[0] != "alice" {
		t.Fatalf("args = %v", args)
	}
}

func TestCompileRejectsUnknownField(t *testing.T) {
	_, _, err := Compile(sendsEntity, Query{
		Filters: []Filter{{Field: "secret_column", Op: Eq, Value: 1}},
	})
	if err == nil {
		t.Fatalf("expected error for unwhitelisted field")
	}
}

func TestCompileInOperator(t *testing.T) {
	where, args, err := Compile(sendsEntity, Query{
		Filters: []Filter{{Field: "asset", Op: In, Value: []interface{}{"XCP", "AAA"}}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if where != "asset IN (?, ?)" {
		t.Fatalf("where = %q", where)
	}
	if len(args) != 2 {
		t.Fatalf("args = %v", args)
	}
}

func TestCompileOrCombinatorAndValidityAndBlockRange(t *testing.T) {
	where, args, err := Compile(sendsEntity, Query{
		Filters: []Filter{
			{Field: "source", Op: Eq, Value: "alice"},
			{Field: "destination", Op: Eq, Value: "bob"},
		},
		FilterOp:   Or,
		Validity:   "valid",
		StartBlock: 100,
		EndBlock:   200,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(where, " OR ") {
		t.Fatalf("expected OR join, got %q", where)
	}
	if !strings.Contains(where, "validity = ?") {
		t.Fatalf("expected validity clause, got %q", where)
	}
	if !strings.Contains(where, "block_index >= ?") || !strings.Contains(where, "block_index <= ?") {
		t.Fatalf("expected block range clauses, got %q", where)
	}
	if len(args) != 5 {
		t.Fatalf("args = %v, want 5", args)
	}
}

func TestCompileOrderByRejectsUnknownField(t *testing.T) {
	_, err := CompileOrderBy(sendsEntity, Query{OrderBy: "nope"})
	if err == nil {
		t.Fatalf("expected error for unwhitelisted order field")
	}
}

func TestCompileOrderByDescending(t *testing.T) {
	clause, err := CompileOrderBy(sendsEntity, Query{OrderBy: "amount", OrderDir: "desc"})
	if err != nil {
		t.Fatalf("CompileOrderBy: %v", err)
	}
	if clause != "ORDER BY amount DESC" {
		t.Fatalf("clause = %q", clause)
	}
}
