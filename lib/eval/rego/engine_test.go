package rego

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/datasafe/papl/lib/store"
	"github.com/datasafe/papl/lib/store/lstore"
)

const authzPolicy = `package authz

default allow := false

allow if input.user == "admin"

allow if input.user in data.editors
`

const auditPolicy = `package audit.log

entries contains msg if {
	some user in data.editors
	msg := sprintf("editor %s", [user])
}
`

func newAuthzEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine()
	pkg, err := engine.AddPolicy("authz.rego", authzPolicy)
	if err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if pkg != "authz" {
		t.Fatalf("AddPolicy returned package %q, want authz", pkg)
	}
	return engine
}

func TestEvalRule(t *testing.T) {
	ctx := context.Background()
	engine := newAuthzEngine(t)

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"admin", `{"user": "admin"}`, true},
		{"stranger", `{"user": "mallory"}`, false},
		{"yaml input", "user: admin\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.SetInput([]byte(tt.input)); err != nil {
				t.Fatalf("SetInput: %v", err)
			}
			value, defined, err := engine.EvalRule(ctx, "authz.allow")
			if err != nil {
				t.Fatalf("EvalRule: %v", err)
			}
			if !defined {
				t.Fatal("authz.allow should be defined")
			}
			if value != tt.want {
				t.Errorf("allow = %v, want %v", value, tt.want)
			}
		})
	}
}

func TestDataMergeAndClear(t *testing.T) {
	ctx := context.Background()
	engine := newAuthzEngine(t)
	engine.SetInputValue(map[string]any{"user": "alice"})

	if err := engine.AddData([]byte("editors:\n  - alice\n  - bob\n")); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if err := engine.AddData([]byte(`{"limits": {"max": 3}}`)); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	value, _, err := engine.EvalRule(ctx, "data.authz.allow")
	if err != nil || value != true {
		t.Fatalf("alice should be allowed as editor, got %v, %v", value, err)
	}

	limit, defined, err := engine.EvalRule(ctx, "limits.max")
	if err != nil || !defined {
		t.Fatalf("limits.max should be defined, got %v, %v", defined, err)
	}
	if limit == nil {
		t.Error("limits.max should have a value after merging a second document")
	}

	engine.ClearData()
	value, _, err = engine.EvalRule(ctx, "authz.allow")
	if err != nil || value != false {
		t.Errorf("alice should be denied after ClearData, got %v, %v", value, err)
	}

	if err := engine.AddData([]byte(`["not", "an", "object"]`)); err == nil {
		t.Error("AddData should reject a document that is not an object")
	}
}

func TestEvalQueryAndPackages(t *testing.T) {
	ctx := context.Background()
	engine := newAuthzEngine(t)

	if _, err := engine.AddPolicy("audit.rego", auditPolicy); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if err := engine.AddData([]byte(`{"editors": ["alice"]}`)); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	if got, want := engine.Packages(), []string{"audit.log", "authz"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Packages() = %v, want %v", got, want)
	}

	results, err := engine.EvalQuery(ctx, "data.audit.log.entries")
	if err != nil {
		t.Fatalf("EvalQuery: %v", err)
	}
	if len(results) != 1 || len(results[0].Expressions) != 1 {
		t.Fatalf("expected one result with one expression, got %+v", results)
	}
	entries, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(entries) != 1 || entries[0] != "editor alice" {
		t.Errorf("unexpected entries %#v", results[0].Expressions[0].Value)
	}

	if !engine.RemovePolicy("audit.rego") {
		t.Error("RemovePolicy should report an existing module")
	}
	if _, defined, err := engine.EvalRule(ctx, "audit.log.entries"); err != nil || defined {
		t.Errorf("audit rules should be gone, defined=%v err=%v", defined, err)
	}
}

func TestInvalidPolicy(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.AddPolicy("broken.rego", "package broken\n\nallow if {"); err == nil {
		t.Error("AddPolicy should reject a module with a syntax error")
	}
	if len(engine.Packages()) != 0 {
		t.Error("a rejected module must not be added")
	}
	if _, _, err := engine.EvalRule(context.Background(), " "); err == nil {
		t.Error("EvalRule should reject an empty rule")
	}
}

func TestAddPolicyFromStore(t *testing.T) {
	s, err := lstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer s.Close()

	if _, err := s.Save("authz", authzPolicy, "1.0.0", 1); err != nil {
		t.Fatalf("Save: %v", err)
	}

	engine := NewEngine()
	pkg, err := engine.AddPolicyFromStore(s, "authz")
	if err != nil {
		t.Fatalf("AddPolicyFromStore: %v", err)
	}
	if pkg != "authz" {
		t.Errorf("package = %q, want authz", pkg)
	}

	engine.SetInputValue(map[string]any{"user": "admin"})
	if value, _, err := engine.EvalRule(context.Background(), "authz.allow"); err != nil || value != true {
		t.Errorf("admin should be allowed, got %v, %v", value, err)
	}

	_, err = engine.AddPolicyFromStore(s, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing policy, got %v", err)
	}
}
