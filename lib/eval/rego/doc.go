// Package rego evaluates Rego policies with the Open Policy Agent.
//
// An Engine collects policy modules (from strings or from a policy store),
// a data document and an input document, and evaluates queries or single
// rules against them:
//
//	engine := rego.NewEngine()
//	if _, err := engine.AddPolicyFromStore(s, "authz"); err != nil {
//		return err
//	}
//	_ = engine.AddData([]byte(`{"editors": ["alice"]}`))
//	_ = engine.SetInput([]byte(`{"user": "alice"}`))
//
//	allowed, defined, err := engine.EvalRule(ctx, "authz.allow")
//
// Modules use the Rego v1 syntax. Data and input documents may be JSON or YAML.
package rego
