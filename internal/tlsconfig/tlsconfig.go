// Package tlsconfig is the thin named boundary for TLS context setup (spec
// §1: "Out of scope (treated as external collaborators with named
// interfaces): TLS context setup ..."). The proxy's session and egress
// connector code depend only on Provider; constructing a real *tls.Config
// from certificate/key/CA material is an operational concern outside this
// design.
package tlsconfig

import "crypto/tls"

// Provider hands back the *tls.Config to use for a given role. Ingress and
// egress may use different configs (e.g. mutual TLS to brokers but a
// simpler listener-side config).
type Provider interface {
	ServerConfig() *tls.Config
	ClientConfig() *tls.Config
}

// Insecure is a Provider that performs no certificate verification,
// suitable only for local development and tests.
type Insecure struct{}

func (Insecure) ServerConfig() *tls.Config { return &tls.Config{} }
func (Insecure) ClientConfig() *tls.Config { return &tls.Config{InsecureSkipVerify: true} }
