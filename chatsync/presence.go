package chatsync

// presenceTracker folds membership events into a non-negative online-user
// count. An authoritative count attached by the broker always wins over
// local increment/decrement bookkeeping.
type presenceTracker struct {
	online int
}

func (p *presenceTracker) apply(ev ChatEvent) {
	if n, ok := ev.OnlineCount(); ok {
		if n < 0 {
			n = 0
		}
		p.online = n
		return
	}
	switch ev.EventType {
	case EventUserJoined:
		p.online++
	case EventUserLeft:
		if p.online > 0 {
			p.online--
		}
	}
}

func (p *presenceTracker) count() int { return p.online }

func (p *presenceTracker) reset() { p.online = 0 }
