/*
Package kernel is the control plane for remote execution kernels.

A Session tracks one kernel's identity and liveness and issues the three
control operations: execute, interrupt and restart. Execute travels over the
uuid's stream connection; interrupt and restart go through a Control
implementation.

# Control protocols

  - RESTControl speaks the Jupyter style /api/kernels HTTP API through resty,
    with a go-retryablehttp transport underneath.
  - GRPCControl calls the KernelControl service with structpb.Struct
    messages so no generated stubs are needed.

Both run every call under a bounded timeout, a client side rate limiter and
a circuit breaker, and classify failures into the shared error kinds:

	timeout / deadline                      -> types.ErrRequestTimeout
	HTTP 4xx, NotFound, InvalidArgument,
	FailedPrecondition, PermissionDenied    -> types.ErrBackendRejection
	network, 5xx, Unavailable, breaker open -> types.ErrTransport

# Liveness

After Restart the session reports types.KernelStatusBusy until the next
liveness signal arrives, either from a status frame (ObserveLiveness) or from
a listing poll (Resolve).
*/
package kernel
