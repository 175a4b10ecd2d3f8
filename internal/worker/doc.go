// Package worker implements the remote computation unit of the cluster.
//
// A Service answers two operations for square matrices whose side is a
// power of two: Invert and LogDet. Matrices at or below the threshold go to
// the dense kernel. Larger ones are split into quadrants [A B; C D] and the
// sub-problems on A and on the Schur complement S = D - C·A⁻¹·B are sent to
// peers picked uniformly at random from the registry, the calling worker
// included. Every result, base cases too, is stored in the worker's cache.
//
// The same Peer interface is satisfied by a local Service, by a Client that
// reaches a Service over HTTP (see NewHandler), and by WithRetry wrappers, so
// the recursion is indifferent to where a sub-problem actually runs.
//
// Error handling is fail fast: the first failure anywhere in a recursion
// tree cancels its siblings and travels back up. Known failures keep their
// identity across hops through the wire error code:
//
//	errors.Is(err, kernel.ErrNumericalFailure)      singular block somewhere
//	errors.Is(err, matrix.ErrInvalidSize)           bad input side
//	errors.Is(err, directory.ErrNoWorkersAvailable) empty registry
//	errors.As(err, **RemoteError)                   a peer call failed
package worker
