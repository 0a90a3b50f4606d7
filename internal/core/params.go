package core

import (
	"github.com/alecthomas/participle/v2"
)

/*
Hyperparameter values arrive from the front end as literal strings, e.g.
"5", "0.1", "True", "None", "[1, 2, 3]", "'auto'". This is a parser for
that small literal language:

Literal := Float | Int | Bool | None | String | List
List    := "[" ( Literal ( "," Literal )* )? "]"

A value that does not parse as any of the above is kept as a plain string,
so free-form values like "distance" still work as parameters.
*/

var literalParser = participle.MustBuild[literalExpr](
	participle.Unquote("String"),
)

type literalExpr struct {
	Float *float64     `parser:"  @(('-' | '+')? Float)"`
	Int   *int64       `parser:"| @(('-' | '+')? Int)"`
	Bool  *string      `parser:"| @('True' | 'true' | 'False' | 'false')"`
	None  *string      `parser:"| @('None' | 'none' | 'null')"`
	Str   *string      `parser:"| @String"`
	List  *literalList `parser:"| @@"`
}

type literalList struct {
	Items []*literalExpr `parser:"'[' ( @@ ( ',' @@ )* )? ']'"`
}

func (e *literalExpr) value() any {
	switch {
	case e.Float != nil:
		return *e.Float
	case e.Int != nil:
		return *e.Int
	case e.Bool != nil:
		return *e.Bool == "True" || *e.Bool == "true"
	case e.None != nil:
		return nil
	case e.Str != nil:
		return *e.Str
	case e.List != nil:
		items := make([]any, len(e.List.Items))
		for i, item := range e.List.Items {
			items[i] = item.value()
		}
		return items
	default:
		return nil
	}
}

// ParseLiteral evaluates a hyperparameter value string. Values that fail to
// parse as a literal are returned unchanged as strings.
func ParseLiteral(s string) any {
	expr, err := literalParser.ParseString("", s)
	if err != nil {
		return s
	}
	return expr.value()
}
