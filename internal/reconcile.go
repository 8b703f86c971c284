package internal

// feedReconciler merges a history snapshot with a live feed subscription into
// one gap-free, duplicate-free message stream.
//
// The feed is opened first and events are buffered; once the snapshot lands,
// history is rendered and buffered events are replayed. The snapshot's total
// count covers append positions 1..total, so the reconciler starts its
// high-water mark there and advances it with every rendered event. A
// seq-bearing event renders only when its sequence number is above the mark,
// which also absorbs at-least-once redelivery on the feed. Events without a
// sequence number (system notices, or messages from a log that predates the
// counter) fall back to an identity match against the snapshot tail.
type feedReconciler struct {
	loaded  bool
	lastSeq int64
	tail    []ChatMessage
	pending []ChatMessage
}

func newFeedReconciler() *feedReconciler {
	return &feedReconciler{}
}

// Observe reports whether a feed event should be rendered now. Before the
// snapshot has loaded, events are buffered and nothing renders.
func (r *feedReconciler) Observe(msg ChatMessage) bool {
	if !r.loaded {
		r.pending = append(r.pending, msg)
		return false
	}
	return r.accept(msg)
}

// LoadSnapshot installs the snapshot and returns the full initial view:
// history in append order followed by any buffered events that the snapshot
// did not already cover.
func (r *feedReconciler) LoadSnapshot(total int64, tail []ChatMessage) []ChatMessage {
	r.loaded = true
	r.lastSeq = total
	r.tail = tail

	view := make([]ChatMessage, 0, len(tail)+len(r.pending))
	view = append(view, tail...)
	for _, msg := range r.pending {
		if r.accept(msg) {
			view = append(view, msg)
		}
	}
	r.pending = nil
	return view
}

// accept decides whether msg is new and, for seq-bearing messages, advances
// the high-water mark when it is.
func (r *feedReconciler) accept(msg ChatMessage) bool {
	if msg.Seq > 0 {
		if msg.Seq <= r.lastSeq {
			return false
		}
		r.lastSeq = msg.Seq
		return true
	}
	if msg.User == "system" {
		return true
	}
	// no sequence number: heuristic identity check against the tail. Two
	// identical messages from the same sender in the same millisecond are
	// indistinguishable here, which is why the log assigns Seq.
	for _, seen := range r.tail {
		if seen.UserID == msg.UserID && seen.Ts == msg.Ts && seen.Body == msg.Body {
			return false
		}
	}
	return true
}
