package engine

import "testing"

func TestFeedSequencesAndTrims(t *testing.T) {
	f := NewFeed(3)
	changed := f.Changed()
	for i := 0; i < 5; i++ {
		f.Publish(FeedEvent{Type: "tick", Elapsed: i})
	}
	select {
	case <-changed:
	default:
		t.Fatalf("changed channel not closed")
	}
	all := f.Since(0)
	if len(all) != 3 || all[0].Seq != 3 || all[2].Seq != 5 {
		t.Fatalf("events %+v", all)
	}
	if got := f.Since(4); len(got) != 1 || got[0].Elapsed != 4 {
		t.Fatalf("since 4: %+v", got)
	}
	if got := f.Since(5); len(got) != 0 {
		t.Fatalf("since 5: %+v", got)
	}
}
