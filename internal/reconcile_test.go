package internal

import "testing"

func feedMessage(seq int64, user, body string) ChatMessage {
	return ChatMessage{
		Room:   "K3X9QAB",
		UserID: "id-" + user,
		User:   user,
		Body:   body,
		Ts:     1000 + seq,
		Seq:    seq,
	}
}

func TestReconcilerBuffersUntilSnapshot(t *testing.T) {
	r := newFeedReconciler()

	if r.Observe(feedMessage(3, "alice", "early")) {
		t.Fatalf("event before snapshot should be buffered, not rendered")
	}
	if r.Observe(feedMessage(4, "bob", "also early")) {
		t.Fatalf("event before snapshot should be buffered, not rendered")
	}

	tail := []ChatMessage{
		feedMessage(1, "alice", "one"),
		feedMessage(2, "bob", "two"),
	}
	view := r.LoadSnapshot(2, tail)
	if len(view) != 4 {
		t.Fatalf("expected snapshot tail plus both buffered events, got %d entries", len(view))
	}
	want := []string{"one", "two", "early", "also early"}
	for i, body := range want {
		if view[i].Body != body {
			t.Fatalf("view[%d] = %q, want %q", i, view[i].Body, body)
		}
	}
}

func TestReconcilerDropsOverlapBySeq(t *testing.T) {
	r := newFeedReconciler()

	// events 2 and 3 arrive on the feed before the snapshot, and the snapshot
	// already covers 1..3: only genuinely new events survive.
	r.Observe(feedMessage(2, "bob", "two"))
	r.Observe(feedMessage(3, "alice", "three"))
	r.Observe(feedMessage(4, "bob", "four"))

	tail := []ChatMessage{
		feedMessage(1, "alice", "one"),
		feedMessage(2, "bob", "two"),
		feedMessage(3, "alice", "three"),
	}
	view := r.LoadSnapshot(3, tail)
	if len(view) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(view), view)
	}
	if view[3].Body != "four" || view[3].Seq != 4 {
		t.Fatalf("expected buffered seq-4 event last, got %+v", view[3])
	}

	// live events after the snapshot render iff they are beyond the join point
	if r.Observe(feedMessage(3, "alice", "three")) {
		t.Fatalf("replayed old event must not render twice")
	}
	if !r.Observe(feedMessage(5, "bob", "five")) {
		t.Fatalf("new live event must render")
	}
}

func TestReconcilerExactlyOnceAcrossJoinPoint(t *testing.T) {
	r := newFeedReconciler()

	// snapshot covers 1..k, feed delivers k-1..k+m with overlap. Every message
	// 1..k+m appears exactly once in the merged stream.
	const k, m = 5, 4
	tail := make([]ChatMessage, 0, k)
	for seq := int64(1); seq <= k; seq++ {
		tail = append(tail, feedMessage(seq, "alice", "msg"))
	}
	for seq := int64(k - 1); seq <= k+m; seq++ {
		r.Observe(feedMessage(seq, "alice", "msg"))
	}

	view := r.LoadSnapshot(k, tail)
	seen := make(map[int64]int)
	for _, msg := range view {
		seen[msg.Seq]++
	}
	for seq := int64(1); seq <= k+m; seq++ {
		if seen[seq] != 1 {
			t.Fatalf("seq %d appeared %d times, want exactly once", seq, seen[seq])
		}
	}
	if len(view) != k+m {
		t.Fatalf("expected %d entries, got %d", k+m, len(view))
	}
}

func TestReconcilerSenderSeesOwnMessageOnce(t *testing.T) {
	r := newFeedReconciler()
	r.LoadSnapshot(0, nil)

	// the sender renders nothing locally; the echo from the feed is the only
	// copy and must render exactly once.
	echo := feedMessage(1, "alice", "hello")
	if !r.Observe(echo) {
		t.Fatalf("feed echo of own message must render")
	}
	if r.Observe(echo) {
		t.Fatalf("duplicate delivery of same seq must not render")
	}
}

func TestReconcilerIgnoresRedeliveredFeedEvents(t *testing.T) {
	r := newFeedReconciler()
	r.LoadSnapshot(0, nil)

	if !r.Observe(feedMessage(1, "alice", "one")) {
		t.Fatalf("seq 1 must render")
	}
	if !r.Observe(feedMessage(2, "bob", "two")) {
		t.Fatalf("seq 2 must render")
	}
	// the feed delivers at least once; replays of already rendered positions
	// must be dropped no matter how late they arrive
	if r.Observe(feedMessage(2, "bob", "two")) {
		t.Fatalf("replayed seq 2 rendered twice")
	}
	if r.Observe(feedMessage(1, "alice", "one")) {
		t.Fatalf("replayed seq 1 rendered twice")
	}
	if !r.Observe(feedMessage(3, "alice", "three")) {
		t.Fatalf("seq 3 must render after replays")
	}
}

func TestReconcilerSystemNoticesAlwaysRender(t *testing.T) {
	r := newFeedReconciler()

	notice := ChatMessage{Room: "K3X9QAB", UserID: "system", User: "system", Body: "bob joined", Ts: 99}
	if r.Observe(notice) {
		t.Fatalf("pre-snapshot notice should buffer")
	}
	view := r.LoadSnapshot(10, nil)
	if len(view) != 1 || view[0].Body != "bob joined" {
		t.Fatalf("buffered notice should survive snapshot load: %+v", view)
	}
	if !r.Observe(notice) {
		t.Fatalf("live system notice must render")
	}
}

func TestReconcilerIdentityFallback(t *testing.T) {
	r := newFeedReconciler()

	// messages without a sequence number dedup by sender+timestamp+content
	old := ChatMessage{Room: "K3X9QAB", UserID: "id-alice", User: "alice", Body: "legacy", Ts: 500}
	fresh := ChatMessage{Room: "K3X9QAB", UserID: "id-bob", User: "bob", Body: "legacy", Ts: 500}

	r.LoadSnapshot(0, []ChatMessage{old})
	if r.Observe(old) {
		t.Fatalf("seq-less event matching the tail must not render")
	}
	if !r.Observe(fresh) {
		t.Fatalf("same body from a different sender must render")
	}
}
