/*
Package security provides the mTLS certificate authority used to secure
transport between manifold nodes.

A manifold deployment that pushes and pulls across machines authenticates
both ends of that connection with client and server certificates issued by
a single root CA, the same posture the teacher's cluster security package
uses for manager/worker mTLS:

	┌──────────────────────────────┐
	│         CertAuthority        │
	│  RSA-4096 root, 10yr validity│
	└──────────────┬───────────────┘
	               │ signs
	       ┌───────┴────────┐
	       ▼                ▼
	 Node certificate   Client certificate
	 (RSA-2048, 90d)    (RSA-2048, 90d)
	 ClientAuth+        ClientAuth only
	 ServerAuth

# Certificate Authority

NewCertAuthority creates an uninitialized CA. Initialize generates the root
key and self-signed certificate. SaveToFile/LoadFromFile persist the root
cert and key as PEM files under a CA directory (root key unencrypted at rest,
mode 0600 — the same posture pkg/security/certs.go already uses for node
key material).

IssueNodeCertificate issues a server+client certificate for a manifold node
serving transport pull/push requests. IssueClientCertificate issues a
client-only certificate for a CLI invoking push/pull against a remote node.

# Certificate file layout

GetCertDir and GetCLICertDir resolve certificate directories under
~/.manifold/certs. SaveCertToFile/LoadCertFromFile read and write the
node.crt/node.key pair; SaveCACertToFile/LoadCACertFromFile handle the
shared ca.crt. CertNeedsRotation flags certificates with fewer than 30 days
of remaining validity.

# Non-goals

This package does not implement secrets-at-rest encryption — manifold has
no analog to the teacher's encrypted-secret store, so that concern was
dropped rather than carried forward unused.
*/
package security
