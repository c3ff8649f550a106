// Package service wires protocol transport to the hub's domain handlers.
//
// It runs MCP over stdio or streamable HTTP and delegates business meaning to
// the handlers in the domain package.
package service
