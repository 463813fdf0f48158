// Package transport implements the distributed transport merge (C6,
// spec.md §4.6): fetching a remote node's refs and objects into a local
// staging area, validating and comparing ancestry, and integrating each
// ref by fast-forward or by synthesizing a transport-merge operation
// across divergent op-log chains.
//
// Grounded on original_source/src/transport.rs for the fetch/validate/
// compare/integrate algorithm itself. The wire protocol is rebuilt on
// go-chi/chi and plain HTTP/JSON rather than the teacher's grpc: the
// teacher's pkg/api/server.go and pkg/client/client.go supply the mTLS
// tls.Config shape (via pkg/security), but their .proto-generated
// stubs never made it into the example pack, so grpc itself is dropped
// (see DESIGN.md).
package transport
