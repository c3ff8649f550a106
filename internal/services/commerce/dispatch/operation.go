package dispatch

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	idKey       = "id"
	actionKey   = "_action"
	paymentKey  = "payment"
	completeTag = "complete"
)

// OperationKind is the checkout lifecycle step an invocation maps to.
type OperationKind int

const (
	// OperationCreate posts a new resource to the endpoint.
	OperationCreate OperationKind = iota
	// OperationUpdate replaces the resource at endpoint/id.
	OperationUpdate
	// OperationComplete finalizes the resource at endpoint/id/complete.
	OperationComplete
)

func (k OperationKind) String() string {
	switch k {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Operation is the resolved lifecycle step with its request payload.
type Operation struct {
	Kind    OperationKind
	ID      string
	Payload map[string]any
}

// ResolveOperation maps an argument set onto a lifecycle step:
//
//	no id                          -> Create
//	id                             -> Update(id)
//	id and _action == "complete"   -> Complete(id), payload = args.payment when it is an object
//
// The _action flag never appears in the payload.
func ResolveOperation(args map[string]any) Operation {
	payload := make(map[string]any, len(args))
	for k, v := range args {
		if k == actionKey {
			continue
		}
		payload[k] = v
	}

	id, ok := resourceID(args[idKey])
	if !ok {
		return Operation{Kind: OperationCreate, Payload: payload}
	}
	if action, _ := args[actionKey].(string); action == completeTag {
		if payment, ok := args[paymentKey].(map[string]any); ok {
			payload = payment
		}
		return Operation{Kind: OperationComplete, ID: id, Payload: payload}
	}
	return Operation{Kind: OperationUpdate, ID: id, Payload: payload}
}

// Method returns the HTTP verb for the operation.
func (o Operation) Method() string {
	if o.Kind == OperationUpdate {
		return http.MethodPut
	}
	return http.MethodPost
}

// URL joins baseURL, endpoint and the operation's resource path.
func (o Operation) URL(baseURL, endpoint string) string {
	target := strings.TrimRight(baseURL, "/") + "/" + strings.Trim(endpoint, "/")
	switch o.Kind {
	case OperationUpdate:
		return target + "/" + url.PathEscape(o.ID)
	case OperationComplete:
		return target + "/" + url.PathEscape(o.ID) + "/" + completeTag
	default:
		return target
	}
}

func resourceID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		if strings.TrimSpace(id) == "" {
			return "", false
		}
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case json.Number:
		return id.String(), id.String() != ""
	default:
		return "", false
	}
}
