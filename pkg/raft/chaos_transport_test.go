package raft

import "net/http"

// chaosRoundTripper is the test-only seam mentioned in chaos.go's doc
// comment: it wraps a peer's http.Transport and consults a ChaosMonkey
// before every request, instead of the coordinator branching on fault
// state inside sendMsg. addressToId resolves the outbound request's
// host back to the ServerId the ChaosMonkey tracks partitions by.
type chaosRoundTripper struct {
	monkey      *ChaosMonkey
	addressToId map[ServerAddress]ServerId
	next        http.RoundTripper
}

func (rt *chaosRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	peerId, found := rt.addressToId[ServerAddress(req.Host)]
	if found && rt.monkey.IsPartitioned(peerId) {
		return nil, errPartitioned(peerId)
	}

	if rt.monkey.ShouldDrop() {
		return nil, errDropped(peerId)
	}

	rt.monkey.Delay()

	next := rt.next
	if next == nil {
		next = http.DefaultTransport
	}

	return next.RoundTrip(req)
}

type errPartitioned ServerId

func (e errPartitioned) Error() string { return "chaos: partitioned from " + string(e) }

type errDropped ServerId

func (e errDropped) Error() string { return "chaos: dropped packet to " + string(e) }
