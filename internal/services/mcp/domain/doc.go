// Package domain translates MCP tool calls into hub operations.
//
// Each tool has an input type, an output type, a definition function, and a
// handler constructor that receives only the narrow interfaces it needs:
// tool_search reads the capability registry, refresh_ucp_discovery runs
// discovery and ingests the result, and execute_script hands code to the
// sandbox. The signing key resource publishes the hub's public JWK.
package domain
