package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// removedGlobals can load code from disk or strings and bypass checks
// applied to the original source.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"module",
}

// builtinModules may always be required; they are opened by NewState anyway.
var builtinModules = map[string]bool{
	"string":    true,
	"table":     true,
	"math":      true,
	"coroutine": true,
}

// optionalLibraries may be made loadable through WithAllowedModules.
var optionalLibraries = map[string]lua.LGFunction{
	lua.OsLibName:    lua.OpenOs,
	lua.IoLibName:    lua.OpenIo,
	lua.DebugLibName: lua.OpenDebug,
}

// restrict removes unsafe globals and replaces require with a whitelist
// version. Only preloaded and whitelisted modules can be loaded.
func restrict(L *lua.LState, allowed map[string]bool) {
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}

	for name := range allowed {
		if open, ok := optionalLibraries[name]; ok {
			L.PreloadModule(name, open)
		}
	}

	original := L.GetGlobal("require")
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !builtinModules[name] && !allowed[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// IsModuleAllowed reports whether require(name) is permitted given the
// extra allowed names.
func IsModuleAllowed(name string, allowed []string) bool {
	if builtinModules[name] {
		return true
	}
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}
