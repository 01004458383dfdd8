package flows

// Deps groups flow dependency sets. The engine builds it once and delegates
// request methods to the matching flow.
type Deps struct {
	Login  LoginDeps
	Logout LogoutDeps
}
