package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/ucp-hub/internal/services/commerce/security"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SigningKeyURI addresses the hub's public signing key.
const SigningKeyURI = "ucp-hub://keys/signing"

// KeySource publishes the hub's public keys.
type KeySource interface {
	JWKSet() security.JWKSet
}

// SigningKeyResource defines the MCP resource for the public signing key.
func SigningKeyResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "signing_key",
		Title:       "Hub signing key",
		Description: "JWK set merchants use to verify request signatures and payment mandates",
		MIMEType:    "application/json",
		URI:         SigningKeyURI,
	}
}

// SigningKeyResourceHandler returns the public signing key as a JWK set.
func SigningKeyResourceHandler(keys KeySource) mcp.ResourceHandler {
	return func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if keys == nil {
			return nil, fmt.Errorf("signing key is not configured")
		}
		uri := SigningKeyURI
		if req != nil && req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}
		if uri != SigningKeyURI {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		data, err := json.MarshalIndent(keys.JWKSet(), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal signing key: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      SigningKeyURI,
					MIMEType: "application/json",
					Text:     string(data),
				},
			},
		}, nil
	}
}
