// Package dtp implements the per-flow Data Transfer Protocol (DTP) and
// Data Transfer Control Protocol (DTCP) state machine of a RINA normal
// IPC process: sequencing, retransmission, window flow control, and
// acknowledgement.
package dtp

import "github.com/pkg/errors"

// Sentinel error kinds surfaced by the core (spec §7).
var (
	// ErrHostUnreachable is returned when the forwarding table has no
	// entry for a non-local destination address.
	ErrHostUnreachable = errors.New("dtp: host unreachable")

	// ErrWouldBlock signals backpressure: the caller retains ownership
	// of the buffer and must retry.
	ErrWouldBlock = errors.New("dtp: would block")

	// ErrNoHeaderSpace is returned when a buffer lacks the reserved
	// prefix required to push a header.
	ErrNoHeaderSpace = errors.New("dtp: no header space")

	// ErrTruncated is returned when popping a header from a buffer
	// shorter than the header being popped.
	ErrTruncated = errors.New("dtp: truncated buffer")

	// ErrInvalidArgument flags a malformed management-send request.
	ErrInvalidArgument = errors.New("dtp: invalid argument")

	// ErrOutOfMemory flags an allocation failure on an interrupt-safe
	// path; the caller must free the buffer and abort the operation.
	ErrOutOfMemory = errors.New("dtp: out of memory")

	// ErrNoFlow names an incoming PDU that cannot be demultiplexed to a
	// flow by destination CEP-id. ipcp.IPCP.SduRx drops such PDUs and
	// returns nil rather than this error.
	ErrNoFlow = errors.New("dtp: no flow for cep-id")
)
