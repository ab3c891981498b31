package sandbox

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.starlark.net/syntax"
)

// policy holds the allow-list of importable modules and the names whose
// calls or attribute access are never permitted.
type policy struct {
	allowed map[string]bool
	denied  map[string]bool
}

func newPolicy(allowed, denied []string) policy {
	p := policy{allowed: make(map[string]bool), denied: make(map[string]bool)}
	for _, m := range allowed {
		p.allowed[m] = true
	}
	for _, d := range denied {
		p.denied[d] = true
	}
	return p
}

func (p policy) allowedList() string {
	names := make([]string, 0, len(p.allowed))
	for m := range p.allowed {
		names = append(names, m)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// rewriteImports checks every Python-style import statement against the
// allow-list and rewrites permitted ones into plain bindings. Statements
// are matched anywhere on a line, including after a semicolon. Line
// numbers are preserved so interpreter positions still match the
// submitted code.
func (p policy) rewriteImports(code string) (string, *Failure) {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]

		body, comment := splitComment(trimmed)
		stmts := splitStatements(body)
		rewritten := false
		for j, stmt := range stmts {
			fields := strings.Fields(stmt)
			if len(fields) == 0 {
				continue
			}
			var out string
			var f *Failure
			switch {
			case fields[0] == "import":
				out, f = p.rewriteImport(strings.Join(fields[1:], " "), i+1)
			case fields[0] == "from" && slices.Contains(fields, "import"):
				out, f = p.rewriteFrom(strings.Join(fields[1:], " "), i+1)
			default:
				continue
			}
			if f != nil {
				return "", f
			}
			stmts[j], rewritten = out, true
		}
		if !rewritten {
			continue
		}
		var kept []string
		for _, stmt := range stmts {
			if strings.TrimSpace(stmt) != "" {
				kept = append(kept, strings.TrimSpace(stmt))
			}
		}
		lines[i] = indent + strings.Join(kept, "; ")
		if comment != "" {
			lines[i] += "  " + comment
		}
	}
	return strings.Join(lines, "\n"), nil
}

// splitComment separates a line from a trailing # comment that is not
// inside a string literal.
func splitComment(line string) (code, comment string) {
	if i := unquotedIndex(line, '#'); i >= 0 {
		return line[:i], line[i:]
	}
	return line, ""
}

// splitStatements splits a line on semicolons outside string literals.
func splitStatements(line string) []string {
	var stmts []string
	for {
		i := unquotedIndex(line, ';')
		if i < 0 {
			return append(stmts, line)
		}
		stmts = append(stmts, line[:i])
		line = line[i+1:]
	}
}

func unquotedIndex(s string, c byte) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case quote != 0 && ch == '\\':
			i++
		case quote != 0 && ch == quote:
			quote = 0
		case quote != 0:
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == c:
			return i
		}
	}
	return -1
}

func (p policy) rewriteImport(spec string, line int) (string, *Failure) {
	var stmts []string
	for _, item := range strings.Split(spec, ",") {
		fields := strings.Fields(item)
		var mod, alias string
		switch {
		case len(fields) == 1:
			mod, alias = fields[0], fields[0]
		case len(fields) == 3 && fields[1] == "as":
			mod, alias = fields[0], fields[2]
		default:
			return "", syntaxFailure(line, "malformed import statement")
		}
		if f := p.checkModule(mod, line); f != nil {
			return "", f
		}
		if alias != mod {
			stmts = append(stmts, alias+" = "+mod)
		}
	}
	if len(stmts) == 0 {
		return "pass", nil
	}
	return strings.Join(stmts, "; "), nil
}

func (p policy) rewriteFrom(spec string, line int) (string, *Failure) {
	mod, names, ok := strings.Cut(spec, " import ")
	if !ok {
		return "", syntaxFailure(line, "malformed from-import statement")
	}
	mod = strings.TrimSpace(mod)
	if f := p.checkModule(mod, line); f != nil {
		return "", f
	}
	names = strings.Trim(strings.TrimSpace(names), "()")

	var stmts []string
	for _, item := range strings.Split(names, ",") {
		fields := strings.Fields(item)
		var name, alias string
		switch {
		case len(fields) == 1 && fields[0] == "*":
			return "", &Failure{Kind: KindPolicy, Message: fmt.Sprintf("line %d: wildcard import from %q is not allowed", line, mod)}
		case len(fields) == 1:
			name, alias = fields[0], fields[0]
		case len(fields) == 3 && fields[1] == "as":
			name, alias = fields[0], fields[2]
		default:
			return "", syntaxFailure(line, "malformed from-import statement")
		}
		stmts = append(stmts, fmt.Sprintf("%s = %s.%s", alias, mod, name))
	}
	return strings.Join(stmts, "; "), nil
}

func (p policy) checkModule(mod string, line int) *Failure {
	if p.allowed[mod] {
		return nil
	}
	return &Failure{
		Kind:    KindPolicy,
		Message: fmt.Sprintf("line %d: import of %q is not allowed (allowed modules: %s)", line, mod, p.allowedList()),
	}
}

// checkTree rejects load statements outside the allow-list, calls to
// denied builtins, and any attribute access rooted at a denied name.
func (p policy) checkTree(f *syntax.File) (violation *Failure) {
	defer func() {
		if r := recover(); r != nil {
			violation = &Failure{Kind: KindPolicy, Message: fmt.Sprintf("code could not be checked: %v", r)}
		}
	}()
	inspect(f, func(n syntax.Node) bool {
		if violation != nil {
			return false
		}
		switch n := n.(type) {
		case *syntax.LoadStmt:
			mod, _ := n.Module.Value.(string)
			if !p.allowed[mod] {
				violation = policyAt(n, fmt.Sprintf("load of %q is not allowed (allowed modules: %s)", mod, p.allowedList()))
			}
		case *syntax.CallExpr:
			if id, ok := n.Fn.(*syntax.Ident); ok && p.denied[id.Name] {
				violation = policyAt(n, fmt.Sprintf("call to %s() is not allowed", id.Name))
			}
		case *syntax.DotExpr:
			if root := rootIdent(n); root != nil && p.denied[root.Name] {
				violation = policyAt(n, fmt.Sprintf("use of %s.%s is not allowed", root.Name, n.Name.Name))
			}
		}
		return violation == nil
	})
	return violation
}

func rootIdent(e syntax.Expr) *syntax.Ident {
	for {
		switch x := e.(type) {
		case *syntax.DotExpr:
			e = x.X
		case *syntax.Ident:
			return x
		default:
			return nil
		}
	}
}

func policyAt(n syntax.Node, msg string) *Failure {
	start, _ := n.Span()
	return &Failure{Kind: KindPolicy, Message: fmt.Sprintf("line %d: %s", start.Line, msg)}
}

func syntaxFailure(line int, msg string) *Failure {
	return &Failure{Kind: KindSyntax, Message: fmt.Sprintf("line %d: %s", line, msg)}
}
