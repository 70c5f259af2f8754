// Package gate places an outbound SIP call that opens a gate and reports the
// progress of that call as a stream of [Status] values.
//
// A [Controller] runs one call attempt at a time. Status changes flow through a
// [StatusBroadcaster], which hands every notification to a [Loop] so that
// observers always run on a single goroutine, never on the worker that placed
// the call. The SIP side is reached only through the [Dialer], [Session] and
// [Call] interfaces; package sipua provides the implementation used in
// production.
package gate
