package search

import (
	"github.com/edgeflare/restless/pkg/expr"
)

// OperatorFunc builds a predicate from a field (or relation) reference, the
// converted argument and the name of the field the filter targets. For a
// relation reference, fieldname names the column of the related table.
type OperatorFunc func(field expr.Ref, arg any, fieldname string) expr.Expr

func binary(fn func(expr.Ref, any) expr.Expr) OperatorFunc {
	return func(field expr.Ref, arg any, fieldname string) expr.Expr {
		return expr.Through(field, fieldname, func(r expr.Ref) expr.Expr { return fn(r, arg) })
	}
}

func unary(fn func(expr.Ref) expr.Expr) OperatorFunc {
	return func(field expr.Ref, _ any, fieldname string) expr.Expr {
		return expr.Through(field, fieldname, fn)
	}
}

func list(fn func(expr.Ref, []any) expr.Expr) OperatorFunc {
	return func(field expr.Ref, arg any, fieldname string) expr.Expr {
		values, ok := arg.([]any)
		if !ok {
			values = []any{arg}
		}
		return expr.Through(field, fieldname, func(r expr.Ref) expr.Expr { return fn(r, values) })
	}
}

var (
	eq = binary(expr.Eq)
	ne = binary(expr.Ne)
)

// Operators maps operator tokens to predicate builders.
var Operators = map[string]OperatorFunc{
	"==":             eq,
	"eq":             eq,
	"equals":         eq,
	"equal_to":       eq,
	"!=":             ne,
	"neq":            ne,
	"not_equal_to":   ne,
	"does_not_equal": ne,
	">":              binary(expr.Gt),
	"gt":             binary(expr.Gt),
	"<":              binary(expr.Lt),
	"lt":             binary(expr.Lt),
	">=":             binary(expr.Gte),
	"gte":            binary(expr.Gte),
	"<=":             binary(expr.Lte),
	"lte":            binary(expr.Lte),
	"like":           binary(expr.Like),
	"in":             list(expr.In),
	"not_in":         list(expr.NotIn),
	"is_null":        unary(expr.IsNull),
	"is_not_null":    unary(expr.IsNotNull),
	// has and any test the related row(s) of a to-one or to-many relation.
	"has": eq,
	"any": eq,
}

// takesArg reports whether op uses its argument.
func takesArg(op string) bool {
	return op != "is_null" && op != "is_not_null"
}

// takesList reports whether op expects a list argument.
func takesList(op string) bool {
	return op == "in" || op == "not_in"
}
