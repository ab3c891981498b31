package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.starlark.net/starlark"
)

// Namespace is the persistent set of top-level bindings shared by every
// execution of one session. Values stay mutable across executions, like
// notebook variables; clone deep-copies containers so a rollback restores
// them exactly.
type Namespace struct {
	vars starlark.StringDict
}

// NewNamespace returns an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{vars: make(starlark.StringDict)}
}

// Bind sets a top-level binding.
func (n *Namespace) Bind(name string, v starlark.Value) {
	n.vars[name] = v
}

// Lookup returns the value bound to name.
func (n *Namespace) Lookup(name string) (starlark.Value, bool) {
	v, ok := n.vars[name]
	return v, ok
}

// Names returns the bound names in sorted order.
func (n *Namespace) Names() []string { return n.vars.Keys() }

func (n *Namespace) Len() int { return len(n.vars) }

// Describe summarizes every binding.
func (n *Namespace) Describe() []VarInfo {
	names := n.Names()
	out := make([]VarInfo, 0, len(names))
	for _, name := range names {
		out = append(out, describe(name, n.vars[name]))
	}
	return out
}

// Digest is a stable hash over all bindings and their fingerprints.
// Two namespaces with equal digests hold the same names bound to the same values.
func (n *Namespace) Digest() string {
	h := sha256.New()
	for _, name := range n.Names() {
		fmt.Fprintf(h, "%s=%s\n", name, fingerprint(n.vars[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type snapshot map[string]string

func (n *Namespace) snapshot() snapshot {
	s := make(snapshot, len(n.vars))
	for name, v := range n.vars {
		s[name] = fingerprint(v)
	}
	return s
}

func (n *Namespace) clone() starlark.StringDict {
	seen := make(map[starlark.Value]starlark.Value)
	c := make(starlark.StringDict, len(n.vars))
	for k, v := range n.vars {
		c[k] = deepCopy(v, seen)
	}
	return c
}

// deepCopy copies lists, dicts, sets and the tuples holding them. Other
// values are immutable or opaque and are shared. seen preserves aliasing
// and cycles between containers.
func deepCopy(v starlark.Value, seen map[starlark.Value]starlark.Value) starlark.Value {
	switch x := v.(type) {
	case *starlark.List:
		if c, ok := seen[x]; ok {
			return c
		}
		c := starlark.NewList(nil)
		seen[x] = c
		for i := 0; i < x.Len(); i++ {
			_ = c.Append(deepCopy(x.Index(i), seen))
		}
		return c
	case *starlark.Dict:
		if c, ok := seen[x]; ok {
			return c
		}
		c := starlark.NewDict(x.Len())
		seen[x] = c
		for _, item := range x.Items() {
			_ = c.SetKey(item[0], deepCopy(item[1], seen))
		}
		return c
	case *starlark.Set:
		if c, ok := seen[x]; ok {
			return c
		}
		c := starlark.NewSet(x.Len())
		seen[x] = c
		iter := x.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			_ = c.Insert(elem)
		}
		return c
	case starlark.Tuple:
		c := make(starlark.Tuple, len(x))
		for i, elem := range x {
			c[i] = deepCopy(elem, seen)
		}
		return c
	default:
		return v
	}
}

func (n *Namespace) restore(saved starlark.StringDict) {
	n.vars = saved
}

// changedSince lists bindings that are new or whose value differs from the snapshot.
func (n *Namespace) changedSince(before snapshot) []string {
	var names []string
	for name, v := range n.vars {
		if fp, ok := before[name]; !ok || fp != fingerprint(v) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// fingerprint identifies a value without comparing interfaces directly,
// which panics for uncomparable dynamic types. Reference values whose
// printed form hides their identity are fingerprinted by address.
func fingerprint(v starlark.Value) string {
	switch v := v.(type) {
	case *Table:
		return fmt.Sprintf("table@%p", v)
	case *starlark.Function:
		return fmt.Sprintf("function@%p", v)
	case *starlark.Builtin:
		return fmt.Sprintf("builtin@%p", v)
	}
	sum := sha256.Sum256([]byte(v.Type() + ":" + v.String()))
	return hex.EncodeToString(sum[:8])
}

const maxSummary = 120

func describe(name string, v starlark.Value) VarInfo {
	info := VarInfo{Name: name, Type: v.Type()}
	switch v := v.(type) {
	case *Table:
		info.Summary = fmt.Sprintf("shape=(%d, %d) columns=%s", v.Len(), len(v.cols), v.columnList(8))
	case *starlark.List:
		info.Summary = fmt.Sprintf("len=%d", v.Len())
	case starlark.Tuple:
		info.Summary = fmt.Sprintf("len=%d", v.Len())
	case *starlark.Dict:
		keys := v.Keys()
		parts := make([]string, 0, len(keys))
		for i, k := range keys {
			if i == 6 {
				parts = append(parts, "...")
				break
			}
			parts = append(parts, k.String())
		}
		info.Summary = fmt.Sprintf("len=%d keys=[%s]", v.Len(), strings.Join(parts, ", "))
	case starlark.String:
		if len(v) <= 40 {
			info.Summary = v.String()
		} else {
			info.Summary = fmt.Sprintf("len=%d", len(v))
		}
	case starlark.Int, starlark.Float, starlark.Bool, starlark.NoneType:
		info.Summary = v.String()
	}
	if len(info.Summary) > maxSummary {
		cut := maxSummary
		for cut > 0 && !utf8.RuneStart(info.Summary[cut]) {
			cut--
		}
		info.Summary = info.Summary[:cut] + "..."
	}
	return info
}
