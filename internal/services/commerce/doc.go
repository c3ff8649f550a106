// Package commerce groups the hub's merchant-facing components.
//
// Discovery pulls a merchant's capability profile, the registry keeps the
// capabilities deferred until an agent searches for them, and the dispatcher
// turns script calls into signed, replay-protected requests. The sandbox ties
// these together for agent-authored Lua scripts.
package commerce
