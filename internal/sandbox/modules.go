package sandbox

import (
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlarkstruct"
)

// builtinModules returns every module the sandbox can expose, keyed by
// import name.
func builtinModules() map[string]*starlarkstruct.Module {
	return map[string]*starlarkstruct.Module{
		"table": tableModule,
		"stats": statsModule,
		"plot":  plotModule,
		"json":  starlarkjson.Module,
		"math":  starlarkmath.Module,
		"time":  starlarktime.Module,
	}
}
