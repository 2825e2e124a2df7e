// Package session establishes forward-secrecy encryption sessions and
// performs per-message authenticated encryption bound to them.
//
// A session pairs a fresh ephemeral ECDH key with a recipient's
// published public key. Compromise of a long-term key therefore never
// exposes traffic from past sessions. The ephemeral private key and
// the derived shared secret live only in memory, only for the
// session's lifetime, and never leave the Manager.
package session
