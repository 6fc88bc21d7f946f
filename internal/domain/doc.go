// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (session.go, connection.go, errors.go) hold shared types and the
// small interfaces consumed across packages. No implementation code, just contracts.
package domain
