// Package cluster holds everything processes need to talk to each other:
// the wire schema, body codecs, the HTTP transport and the server-side
// helpers that mirror it.
//
// # Wire schema
//
// Matrices travel as WireMatrix: element type, row and column counts and a
// row-major payload. Log-determinants travel as LogDetResponse. Failures
// travel as ErrorResponse with a machine readable code:
//
//	bad_request        body could not be decoded
//	invalid_matrix     matrix not square or side not a power of two
//	numerical_failure  the dense kernel found a singular matrix
//	no_workers         a worker needed to delegate but the registry was empty
//	remote_failure     a delegated call to another worker failed
//	internal           anything else, including recovered panics
//
// The code survives multi-hop propagation: a worker that receives a
// numerical_failure from a peer reports numerical_failure to its own caller.
//
// # Codecs
//
// Bodies are encoded with MessagePack by default. CBOR and JSON are
// available; JSON cannot represent the -Inf log-magnitude of a singular
// matrix and is meant for the registry and for debugging. The receiving side
// selects its decoder from Content-Type, so mixed deployments interoperate.
//
// # Compression
//
// A Transport created with compress=true zstd-encodes request bodies above a
// few kilobytes and advertises Accept-Encoding: zstd; servers answer in kind.
// A 1024×1024 float64 matrix is 8 MiB raw, so this matters on slow links.
//
// # Request ids
//
// Every top-level request gets an id that is carried in X-Request-ID across
// every delegation hop and attached to log lines, so one recursion tree can
// be followed through the logs of many workers.
package cluster
