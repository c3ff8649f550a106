// Package sandbox runs agent-written Lua scripts in a restricted namespace
// whose only route to the network is the ucp proxy table.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
)

const (
	proxyGlobal = "ucp"
	chunkName   = "=script"
	// hookInstructionCount is how many VM instructions run between
	// cancellation checks.
	hookInstructionCount = 10_000
)

// Discoverer fetches merchant profiles.
type Discoverer interface {
	Discover(ctx context.Context, baseURL string) (*discovery.Profile, error)
}

// Dispatcher forwards capability calls to a merchant.
type Dispatcher interface {
	Dispatch(ctx context.Context, baseURL, tool string, args map[string]any) (map[string]any, error)
}

// MandateIssuer signs payment mandates.
type MandateIssuer interface {
	CreateMandate(amount float64, currency, beneficiary string) (string, error)
}

// Registry is the capability store shared with tool search.
type Registry interface {
	Register(capabilities []registry.Capability)
	Fetch(name string) (registry.Descriptor, bool)
}

// Dependencies are the hub services reachable through the ucp table.
type Dependencies struct {
	Registry   Registry
	Discovery  Discoverer
	Dispatcher Dispatcher
	Mandates   MandateIssuer
}

// Options configure a Sandbox.
type Options struct {
	// Modules names trusted libraries to expose; see TrustedModules.
	Modules []string
	// Globals are extra host functions. Names that collide with the
	// built-in namespace are ignored.
	Globals map[string]lua.Function
	// Beneficiary is the audience of issued mandates.
	Beneficiary string
	Logger      *slog.Logger
}

// Sandbox executes scripts. Each run gets a fresh interpreter and proxy,
// so nothing leaks between invocations.
type Sandbox struct {
	deps        Dependencies
	modules     []string
	globals     map[string]lua.Function
	beneficiary string
	logger      *slog.Logger
	newToken    func() string
}

// New validates opts and returns a Sandbox.
func New(deps Dependencies, opts Options) (*Sandbox, error) {
	if deps.Registry == nil || deps.Discovery == nil || deps.Dispatcher == nil || deps.Mandates == nil {
		return nil, fmt.Errorf("sandbox requires registry, discovery, dispatcher, and mandate issuer")
	}
	modules, err := validateModules(opts.Modules)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	beneficiary := strings.TrimSpace(opts.Beneficiary)
	if beneficiary == "" {
		beneficiary = DefaultBeneficiary
	}

	reserved := reservedNames(modules)
	globals := make(map[string]lua.Function, len(opts.Globals))
	for name, fn := range opts.Globals {
		if reserved[name] || fn == nil {
			logger.Warn("ignoring sandbox global", "name", name)
			continue
		}
		globals[name] = fn
	}

	return &Sandbox{
		deps:        deps,
		modules:     modules,
		globals:     globals,
		beneficiary: beneficiary,
		logger:      logger,
		newToken:    newPaymentToken,
	}, nil
}

// Modules returns the enabled trusted modules.
func (s *Sandbox) Modules() []string {
	return append([]string(nil), s.modules...)
}

// Run executes code and returns its printed output. A failure appends a
// "Runtime Error:" line to whatever was printed before it.
func (s *Sandbox) Run(ctx context.Context, code string) string {
	output, err := s.Execute(ctx, code)
	if err != nil {
		return output + "\nRuntime Error: " + err.Error()
	}
	return output
}

// Execute runs code and returns the captured output along with any error.
// Errors carry CodeSandboxRuntime.
func (s *Sandbox) Execute(ctx context.Context, code string) (output string, err error) {
	out := &printer{}
	defer func() {
		if r := recover(); r != nil {
			output = out.String()
			err = apperrors.New(apperrors.CodeSandboxRuntime, fmt.Sprint(r))
		}
		if err != nil {
			s.logger.Debug("script failed", "error", err)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}

	l := lua.NewState()
	proxy := newProxy(ctx, s.deps, s.beneficiary, s.newToken)
	s.prepare(l, out, proxy)

	l.PushGoFunction(errorMessage)
	handler := l.Top()
	if loadErr := lua.LoadBuffer(l, code, chunkName, "t"); loadErr != nil {
		return out.String(), apperrors.New(apperrors.CodeSandboxRuntime, loadErr.Error())
	}
	lua.SetDebugHook(l, cancelHook(ctx), lua.MaskCount, hookInstructionCount)
	if callErr := l.ProtectedCall(0, 0, handler); callErr != nil {
		return out.String(), apperrors.New(apperrors.CodeSandboxRuntime, callErr.Error())
	}
	return out.String(), nil
}

// cancelHook aborts the running script once ctx is done, so CPU-bound
// loops stop at the caller's deadline. After the first abort the hook fires
// on every instruction, so pcall cannot swallow the cancellation.
func cancelHook(ctx context.Context) lua.Hook {
	var hook lua.Hook
	hook = func(l *lua.State, _ lua.Debug) {
		if err := ctx.Err(); err != nil {
			lua.SetDebugHook(l, hook, lua.MaskCount, 1)
			lua.Errorf(l, "script cancelled: %s", err.Error())
		}
	}
	return hook
}

// errorMessage turns a raised error value into the diagnostic text. Strings
// and numbers pass through; anything else is described by its type.
func errorMessage(l *lua.State) int {
	switch l.TypeOf(1) {
	case lua.TypeString, lua.TypeNumber:
		msg, _ := l.ToString(1)
		l.PushString(msg)
	default:
		if !lua.CallMeta(l, 1, "__tostring") || l.TypeOf(-1) != lua.TypeString {
			l.PushString(fmt.Sprintf("(error object is a %s value)", lua.TypeNameOf(l, 1)))
		}
	}
	return 1
}

// prepare builds the restricted namespace: the kept base functions, the
// builtins, enabled modules, host globals, and the ucp proxy.
func (s *Sandbox) prepare(l *lua.State, out *printer, proxy *Proxy) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	stripGlobals(l, baseGlobals)

	for _, fn := range builtins(out) {
		l.PushGoFunction(fn.Function)
		l.SetGlobal(fn.Name)
	}
	for _, name := range s.modules {
		lua.Require(l, name, trustedModules[name], true)
		l.Pop(1)
	}
	for _, name := range sortedKeys(s.globals) {
		l.PushGoFunction(s.globals[name])
		l.SetGlobal(name)
	}
	proxy.install(l)
}

// stripGlobals removes every global not named in keep.
func stripGlobals(l *lua.State, keep map[string]bool) {
	var remove []string
	l.PushGlobalTable()
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == lua.TypeString {
			name, _ := l.ToString(-2)
			if !keep[name] {
				remove = append(remove, name)
			}
		}
		l.Pop(1)
	}
	l.Pop(1)
	for _, name := range remove {
		l.PushNil()
		l.SetGlobal(name)
	}
}

// reservedNames are globals host functions may not replace.
func reservedNames(modules []string) map[string]bool {
	reserved := map[string]bool{proxyGlobal: true}
	for name := range baseGlobals {
		reserved[name] = true
	}
	for _, fn := range builtins(&printer{}) {
		reserved[fn.Name] = true
	}
	for name := range trustedModules {
		reserved[name] = true
	}
	for _, name := range modules {
		reserved[name] = true
	}
	return reserved
}

func sortedKeys(m map[string]lua.Function) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
