// Package modules implements the tool handlers. Each module is a static table
// of methods calling the upstream API through graph.Client with the bearer
// the dispatcher injects as the accessToken argument.
package modules
