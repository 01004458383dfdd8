// Package internal holds helpers private to authn, currently the
// password-reset token codec.
//
// # Sub-packages
//
//   - audit: event model, sinks and dispatcher
//   - flows: login and logout orchestration over injected dependencies
//   - rate: Redis rolling-window failed-login limiter
//   - stores: Redis password-reset record store
//   - logging: zap logger construction
//   - settings: server configuration loading
//   - factories: test fixtures for users and profiles
package internal
