package network

import "github.com/ineiti/fledger-sub002/internal/util"

// WatchStats taps n's output stream and feeds util.Stats so
// util.StartStatsReporter can log overlay-wide connection counts and
// message-byte throughput, adapted from the teacher's tunnel-traffic
// counters in internal/util/stats.go to the façade's Connected/
// Disconnected/MessageFromNode events.
func WatchStats(n *Network) {
	outTap, _, err := n.Broker.GetTapOutSync()
	if err != nil {
		util.LogError("network: watching output stats: %v", err)
		return
	}
	go func() {
		for out := range outTap {
			switch out.Kind {
			case OutConnected:
				util.Stats.AddConn()
			case OutDisconnected:
				util.Stats.RemoveConn()
			case OutMessageFromNode:
				util.Stats.AddRecv(len(out.Wrapper.Msg))
			}
		}
	}()

	inTap, _, err := n.Broker.GetTapInSync()
	if err != nil {
		util.LogError("network: watching input stats: %v", err)
		return
	}
	go func() {
		for in := range inTap {
			if in.Kind == InMessageToNode {
				util.Stats.AddSent(len(in.Wrapper.Msg))
			}
		}
	}()
}
