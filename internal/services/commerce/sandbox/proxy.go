package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/google/uuid"

	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/discovery"
	"github.com/louisbranch/ucp-hub/internal/services/commerce/registry"
)

const (
	// DefaultCurrency applies when select_payment_method omits one.
	DefaultCurrency = "BRL"
	// DefaultBeneficiary is the mandate audience when none is configured.
	DefaultBeneficiary = "merchant-id"
)

// PaymentSelection is returned to scripts by select_payment_method.
type PaymentSelection struct {
	Token   string `json:"token"`
	Mandate string `json:"mandate"`
	Method  string `json:"method"`
}

// Proxy is the per-script view of the hub. It remembers the merchant a
// script discovered so later calls go to the same place.
type Proxy struct {
	ctx      context.Context
	deps     Dependencies
	audience string
	newToken func() string

	baseURL  string
	handlers []discovery.PaymentHandler
}

func newProxy(ctx context.Context, deps Dependencies, audience string, newToken func() string) *Proxy {
	return &Proxy{ctx: ctx, deps: deps, audience: audience, newToken: newToken}
}

// BaseURL reports the merchant discovered by this proxy, if any.
func (p *Proxy) BaseURL() string {
	return p.baseURL
}

// Discover fetches a merchant profile, records its capabilities in the
// shared registry, and pins the merchant as this proxy's target.
func (p *Proxy) Discover(url string) ([]registry.Capability, error) {
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}
	profile, err := p.deps.Discovery.Discover(p.ctx, url)
	if err != nil {
		return nil, err
	}
	capabilities := profile.Capabilities()
	p.deps.Registry.Register(capabilities)
	p.baseURL = url
	p.handlers = profile.PaymentHandlers()
	return capabilities, nil
}

// SelectPaymentMethod issues a payment token and a signed mandate. When
// the discovered merchant advertised handlers, method must name one.
func (p *Proxy) SelectPaymentMethod(method string, amount float64, currency string) (PaymentSelection, error) {
	if len(p.handlers) > 0 && !p.offers(method) {
		offered := make([]string, 0, len(p.handlers))
		for _, handler := range p.handlers {
			offered = append(offered, handler.ID)
		}
		return PaymentSelection{}, apperrors.New(apperrors.CodeMandateInvalid,
			fmt.Sprintf("payment method '%s' is not offered by the merchant (offered: %s)", method, strings.Join(offered, ", ")))
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	mandate, err := p.deps.Mandates.CreateMandate(amount, currency, p.audience)
	if err != nil {
		return PaymentSelection{}, err
	}
	return PaymentSelection{Token: p.newToken(), Mandate: mandate, Method: method}, nil
}

func (p *Proxy) offers(method string) bool {
	for _, handler := range p.handlers {
		if handler.ID == method || handler.Name == method {
			return true
		}
	}
	return false
}

// Call marks the capability as loaded and forwards the invocation to the
// discovered merchant.
func (p *Proxy) Call(tool string, args map[string]any) (map[string]any, error) {
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}
	p.deps.Registry.Fetch(tool)
	return p.deps.Dispatcher.Dispatch(p.ctx, p.baseURL, tool, args)
}

func newPaymentToken() string {
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// install publishes the proxy as the global ucp table.
func (p *Proxy) install(l *lua.State) {
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "discover", Function: p.luaDiscover},
		{Name: "select_payment_method", Function: p.luaSelectPaymentMethod},
		{Name: "call", Function: p.luaCall},
	}, 0)
	l.SetGlobal(proxyGlobal)
}

// argOffset lets scripts use both ucp.fn(...) and ucp:fn(...).
func argOffset(l *lua.State) int {
	if l.TypeOf(1) == lua.TypeTable && l.TypeOf(2) == lua.TypeString {
		return 1
	}
	return 0
}

func (p *Proxy) luaDiscover(l *lua.State) int {
	base := argOffset(l)
	url := lua.CheckString(l, base+1)
	capabilities, err := p.Discover(url)
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
	list := make([]any, 0, len(capabilities))
	for _, capability := range capabilities {
		list = append(list, map[string]any{
			"name":    capability.Name,
			"spec":    capability.Spec,
			"version": capability.Version,
		})
	}
	if err := pushGo(l, list); err != nil {
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
	return 1
}

func (p *Proxy) luaSelectPaymentMethod(l *lua.State) int {
	base := argOffset(l)
	method := lua.CheckString(l, base+1)
	amount := lua.OptNumber(l, base+2, 0)
	currency := lua.OptString(l, base+3, DefaultCurrency)
	selection, err := p.SelectPaymentMethod(method, amount, currency)
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
	l.CreateTable(0, 3)
	l.PushString(selection.Token)
	l.SetField(-2, "token")
	l.PushString(selection.Mandate)
	l.SetField(-2, "mandate")
	l.PushString(selection.Method)
	l.SetField(-2, "method")
	return 1
}

func (p *Proxy) luaCall(l *lua.State) int {
	base := argOffset(l)
	tool := lua.CheckString(l, base+1)
	args := map[string]any{}
	if !l.IsNoneOrNil(base + 2) {
		lua.CheckType(l, base+2, lua.TypeTable)
		value, err := luaToGo(l, base+2)
		if err != nil {
			lua.Errorf(l, "invalid arguments for %s: %s", tool, err.Error())
			return 0
		}
		converted, ok := value.(map[string]any)
		if !ok {
			lua.ArgumentError(l, base+2, "arguments must be a table with named fields")
			return 0
		}
		args = converted
	}
	result, err := p.Call(tool, args)
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
	if err := pushGo(l, result); err != nil {
		lua.Errorf(l, "%s", err.Error())
		return 0
	}
	return 1
}
