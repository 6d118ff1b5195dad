// Package domain defines core data models, errors and interfaces shared
// across the app. It contains plain types (wire/state) and contracts
// (interfaces) only.
//
// The types live in the types subpackage and the contracts in the
// interfaces subpackage; this package aliases both so callers can import a
// single name.
package domain
