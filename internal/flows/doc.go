// Package flows holds the login and logout orchestration.
//
// Each Run* function takes a typed dependency struct of function fields and
// touches nothing else: stores, limiter, hasher, audit and metrics are all
// injected by the engine, which keeps ownership of them. The package never
// imports the root authn package.
package flows
