package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"
)

// trustedModules are the libraries an operator may expose to scripts.
// Anything reaching the filesystem, process, or loader is absent.
var trustedModules = map[string]lua.Function{
	"bit32":  lua.Bit32Open,
	"json":   jsonOpen,
	"math":   lua.MathOpen,
	"string": lua.StringOpen,
	"table":  lua.TableOpen,
}

// TrustedModules lists module names accepted by Options.Modules.
func TrustedModules() []string {
	names := make([]string, 0, len(trustedModules))
	for name := range trustedModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateModules(modules []string) ([]string, error) {
	seen := make(map[string]bool, len(modules))
	valid := make([]string, 0, len(modules))
	for _, raw := range modules {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		if _, ok := trustedModules[name]; !ok {
			return nil, fmt.Errorf("module %q is not allowed in the sandbox (allowed: %s)", name, strings.Join(TrustedModules(), ", "))
		}
		seen[name] = true
		valid = append(valid, name)
	}
	return valid, nil
}

var jsonFunctions = []lua.RegistryFunction{
	{Name: "encode", Function: jsonEncode},
	{Name: "decode", Function: jsonDecode},
}

func jsonOpen(l *lua.State) int {
	l.NewTable()
	lua.SetFunctions(l, jsonFunctions, 0)
	return 1
}

func jsonEncode(l *lua.State) int {
	value, err := luaToGo(l, 1)
	if err != nil {
		lua.Errorf(l, "json.encode: %s", err.Error())
		return 0
	}
	raw, err := json.Marshal(value)
	if err != nil {
		lua.Errorf(l, "json.encode: %s", err.Error())
		return 0
	}
	l.PushString(string(raw))
	return 1
}

func jsonDecode(l *lua.State) int {
	text := lua.CheckString(l, 1)
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		lua.Errorf(l, "json.decode: %s", err.Error())
		return 0
	}
	if err := pushGo(l, value); err != nil {
		lua.Errorf(l, "json.decode: %s", err.Error())
		return 0
	}
	return 1
}
