// Package account implements registration and password authentication with
// bcrypt hashing and JWT session tokens. It also provides the user lookup
// adapter the billing module consumes and the identity extractor used by
// the subscription access gate.
package account
