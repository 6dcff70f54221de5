package audit

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/pkg/errors"
)

// Filter restricts audit listings. The zero value matches everything.
type Filter struct {
	CharacterID    string
	Classification string
}

// ParseFilter compiles a CEL filter expression into a Filter. The
// supported grammar is equality on character_id and classification,
// joined with &&:
//
//	character_id == "char-1"
//	classification == "error"
//	character_id == "char-1" && classification == "partial"
func ParseFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("character_id", cel.StringType),
		cel.Variable("classification", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "audit: create filter environment")
	}

	celAST, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "audit: invalid filter expression: %s", expr)
	}

	f := &Filter{}
	if err := applyExpr(f, celAST.NativeRep().Expr()); err != nil {
		return nil, err
	}
	return f, nil
}

// applyExpr walks a compiled filter expression and fills in the filter
// fields it mentions.
func applyExpr(f *Filter, expr ast.Expr) error {
	if expr == nil {
		return errors.New("audit: empty filter expression")
	}
	if expr.Kind() != ast.CallKind {
		return errors.New("audit: filter must be a comparison expression (e.g. character_id == 'value')")
	}

	call := expr.AsCall()
	switch call.FunctionName() {
	case "_&&_":
		for _, arg := range call.Args() {
			if err := applyExpr(f, arg); err != nil {
				return err
			}
		}
		return nil
	case "_==_":
		args := call.Args()
		if len(args) != 2 {
			return errors.New("audit: invalid comparison expression")
		}
		if applyComparison(f, args[0], args[1]) || applyComparison(f, args[1], args[0]) {
			return nil
		}
		return errors.New("audit: filter must compare character_id or classification with a string constant")
	default:
		return errors.Errorf("audit: unsupported operator: %s (only '==' and '&&' are supported)", call.FunctionName())
	}
}

// applyComparison sets a filter field when left is a known identifier
// and right is a non-empty string constant.
func applyComparison(f *Filter, left, right ast.Expr) bool {
	if left.Kind() != ast.IdentKind || right.Kind() != ast.LiteralKind {
		return false
	}
	value, ok := right.AsLiteral().Value().(string)
	if !ok || value == "" {
		return false
	}
	switch left.AsIdent() {
	case "character_id":
		f.CharacterID = value
	case "classification":
		f.Classification = value
	default:
		return false
	}
	return true
}

// Matches reports whether a record satisfies the filter. A nil filter
// matches everything.
func (f *Filter) Matches(rec *Record) bool {
	if f == nil {
		return true
	}
	if f.CharacterID != "" && rec.CharacterID != f.CharacterID {
		return false
	}
	if f.Classification != "" && string(rec.Classification) != f.Classification {
		return false
	}
	return true
}
