// Package crawler defines the domain types, collaborator interfaces and error
// taxonomy shared by the listing tracker subsystems.
package crawler
