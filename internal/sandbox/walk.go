package sandbox

import "go.starlark.net/syntax"

// inspect traverses a syntax tree depth-first, calling f for each node and
// descending into its children while f returns true. Unlike syntax.Walk it
// covers while loops and skips node types it does not know instead of
// panicking.
func inspect(n syntax.Node, f func(syntax.Node) bool) {
	if n == nil || !f(n) {
		return
	}

	switch n := n.(type) {
	case *syntax.File:
		inspectStmts(n.Stmts, f)
	case *syntax.ExprStmt:
		inspect(n.X, f)
	case *syntax.IfStmt:
		inspect(n.Cond, f)
		inspectStmts(n.True, f)
		inspectStmts(n.False, f)
	case *syntax.AssignStmt:
		inspect(n.LHS, f)
		inspect(n.RHS, f)
	case *syntax.DefStmt:
		inspect(n.Name, f)
		inspectExprs(n.Params, f)
		inspectStmts(n.Body, f)
	case *syntax.ForStmt:
		inspect(n.Vars, f)
		inspect(n.X, f)
		inspectStmts(n.Body, f)
	case *syntax.WhileStmt:
		inspect(n.Cond, f)
		inspectStmts(n.Body, f)
	case *syntax.ReturnStmt:
		inspect(n.Result, f)
	case *syntax.LoadStmt:
		inspect(n.Module, f)
		for _, id := range n.From {
			inspect(id, f)
		}
		for _, id := range n.To {
			inspect(id, f)
		}
	case *syntax.ListExpr:
		inspectExprs(n.List, f)
	case *syntax.TupleExpr:
		inspectExprs(n.List, f)
	case *syntax.DictExpr:
		inspectExprs(n.List, f)
	case *syntax.DictEntry:
		inspect(n.Key, f)
		inspect(n.Value, f)
	case *syntax.ParenExpr:
		inspect(n.X, f)
	case *syntax.CondExpr:
		inspect(n.Cond, f)
		inspect(n.True, f)
		inspect(n.False, f)
	case *syntax.IndexExpr:
		inspect(n.X, f)
		inspect(n.Y, f)
	case *syntax.SliceExpr:
		inspect(n.X, f)
		inspect(n.Lo, f)
		inspect(n.Hi, f)
		inspect(n.Step, f)
	case *syntax.Comprehension:
		inspect(n.Body, f)
		for _, clause := range n.Clauses {
			inspect(clause, f)
		}
	case *syntax.ForClause:
		inspect(n.Vars, f)
		inspect(n.X, f)
	case *syntax.IfClause:
		inspect(n.Cond, f)
	case *syntax.UnaryExpr:
		inspect(n.X, f)
	case *syntax.BinaryExpr:
		inspect(n.X, f)
		inspect(n.Y, f)
	case *syntax.DotExpr:
		inspect(n.X, f)
		inspect(n.Name, f)
	case *syntax.CallExpr:
		inspect(n.Fn, f)
		inspectExprs(n.Args, f)
	case *syntax.LambdaExpr:
		inspectExprs(n.Params, f)
		inspect(n.Body, f)
	}
}

func inspectStmts(stmts []syntax.Stmt, f func(syntax.Node) bool) {
	for _, s := range stmts {
		inspect(s, f)
	}
}

func inspectExprs(exprs []syntax.Expr, f func(syntax.Node) bool) {
	for _, x := range exprs {
		inspect(x, f)
	}
}
