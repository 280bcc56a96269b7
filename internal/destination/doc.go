// Package destination implements the per-thread handle for one backend
// destination of the routing proxy: connectivity state tracking, TKO
// accounting on every reply, and the exponential-backoff recovery probing
// that brings a knocked-out destination back into rotation.
//
// A Destination owns its transport connection exclusively and shares a
// tko.Tracker with every other handle targeting the same logical backend.
// Routing code must consult MaySend before selecting the destination and
// sends through Send, which feeds the reply back into the health state
// machine:
//
//	if d.MaySend() {
//	    reply := d.Send(ctx, req)
//	    ...
//	}
//
// The actual network client is an external collaborator behind the Conn
// and Dialer interfaces; this package only makes health decisions on the
// outcomes it reports.
package destination
