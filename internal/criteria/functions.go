package criteria

import (
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/queryir"
)

// CountStar is count(*).
func (b *Builder) CountStar() queryir.Expression {
	return &queryir.FuncCall{Name: "count", Star: true, T: queryir.BasicOf(metamodel.TypeInteger)}
}

// Count is count(x); distinct counts distinct values.
func (b *Builder) Count(x queryir.Expression, distinct bool) queryir.Expression {
	return &queryir.FuncCall{Name: "count", Args: []queryir.Expression{x}, Distinct: distinct, T: queryir.BasicOf(metamodel.TypeInteger)}
}

// Func calls a scalar or aggregate function returning t.
func (b *Builder) Func(name string, t metamodel.BasicType, args ...queryir.Expression) queryir.Expression {
	return &queryir.FuncCall{Name: name, Args: args, T: queryir.BasicOf(t)}
}

// Concat is "l || r".
func (b *Builder) Concat(l, r queryir.Expression) queryir.Expression {
	str := queryir.BasicOf(metamodel.TypeString)
	inferParam(l, str)
	inferParam(r, str)
	return &queryir.Arithmetic{Op: "||", Left: l, Right: r, T: str}
}

// Arithmetic is "l op r" for + - * /.
func (b *Builder) Arithmetic(op string, l, r queryir.Expression) queryir.Expression {
	inferParam(l, r.Type())
	inferParam(r, l.Type())
	return &queryir.Arithmetic{Op: op, Left: l, Right: r, T: queryir.BasicOf(l.Type().Basic.Widen(r.Type().Basic))}
}
