package history

import (
	"fmt"
	"sync"
	"testing"
)

func TestGetUnseenChannelIsEmpty(t *testing.T) {
	s := NewStore()
	got := s.Get("nope")
	if got == nil || len(got) != 0 {
		t.Errorf("Get() on unseen channel = %v, want empty non-nil slice", got)
	}
	if _, ok := s.Last("nope"); ok {
		t.Error("Last() on unseen channel should report no entry")
	}
}

func TestAppendKeepsOrder(t *testing.T) {
	s := NewStore()
	s.Append("c1", "A", "hi")
	s.Append("c1", "B", "yo")

	got := s.Get("c1")
	want := []Entry{{"A", "hi"}, {"B", "yo"}}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	last, ok := s.Last("c1")
	if !ok || last != want[1] {
		t.Errorf("Last() = %+v, %v; want %+v", last, ok, want[1])
	}
}

func TestAppendNeverExceedsCapacity(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3*Capacity+7; i++ {
		content := fmt.Sprintf("msg-%d", i)
		s.Append("c1", "A", content)

		if n := s.Len("c1"); n > Capacity {
			t.Fatalf("after %d appends length is %d, exceeds %d", i+1, n, Capacity)
		}
		last, _ := s.Last("c1")
		if last.Content != content {
			t.Fatalf("after append %d last entry is %q, want %q", i, last.Content, content)
		}
	}

	got := s.Get("c1")
	if len(got) != Capacity {
		t.Fatalf("len = %d, want %d", len(got), Capacity)
	}
	// oldest surviving entry is the one appended Capacity entries before the end
	if want := fmt.Sprintf("msg-%d", 2*Capacity+7); got[0].Content != want {
		t.Errorf("oldest entry = %q, want %q", got[0].Content, want)
	}
	for i := 1; i < len(got); i++ {
		var a, b int
		fmt.Sscanf(got[i-1].Content, "msg-%d", &a)
		fmt.Sscanf(got[i].Content, "msg-%d", &b)
		if b != a+1 {
			t.Fatalf("entries out of order at %d: %q then %q", i, got[i-1].Content, got[i].Content)
		}
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	s := NewStore()
	for i := 0; i < Capacity+5; i++ {
		s.Append("busy", "A", "x")
	}
	s.Append("quiet", "B", "only")

	if n := s.Len("quiet"); n != 1 {
		t.Errorf("quiet channel length = %d, want 1", n)
	}
	sizes := s.Sizes()
	if sizes["busy"] != Capacity || sizes["quiet"] != 1 {
		t.Errorf("Sizes() = %v", sizes)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append("c1", "A", "hi")
	got := s.Get("c1")
	got[0].Content = "mutated"
	if again := s.Get("c1"); again[0].Content != "hi" {
		t.Error("mutating the result of Get() changed the stored history")
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Append("c1", "A", "x")
			}
		}()
	}
	wg.Wait()
	if n := s.Len("c1"); n != Capacity {
		t.Errorf("length after 400 concurrent appends = %d, want %d", n, Capacity)
	}
}
