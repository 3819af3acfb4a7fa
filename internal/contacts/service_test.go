package contacts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quotewell.org/internal/usage"
)

func newService() (*InMemory, *usage.InMemory) {
	counter := usage.NewInMemory()
	return NewInMemory(counter), counter
}

func TestTrackDedupesAcrossCasingAndWhitespace(t *testing.T) {
	s, counter := newService()
	ctx := context.Background()

	first, err := s.Track(ctx, 42, 7, Identity{Email: "  Jane@Example.com "})
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsNew {
		t.Fatal("expected first track to be new")
	}

	second, err := s.Track(ctx, 42, 7, Identity{Email: "jane@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if second.IsNew {
		t.Fatal("expected second track to be a duplicate")
	}
	if second.ContactID != first.ContactID {
		t.Fatalf("contact ids differ: %d vs %d", first.ContactID, second.ContactID)
	}

	count, _ := counter.CurrentCount(ctx, 42)
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestTrackInvalidIdentity(t *testing.T) {
	s, _ := newService()
	if _, err := s.Track(context.Background(), 42, 7, Identity{Email: "   "}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestTrackIsolatesOrganizations(t *testing.T) {
	s, counter := newService()
	ctx := context.Background()

	a, _ := s.Track(ctx, 1, 7, Identity{Email: "shared@example.com"})
	b, _ := s.Track(ctx, 2, 7, Identity{Email: "shared@example.com"})
	if !a.IsNew || !b.IsNew {
		t.Fatal("same email in different organizations must be independent")
	}
	if a.ContactID == b.ContactID {
		t.Fatal("contact ids must not be shared across organizations")
	}
	for _, org := range []uint64{1, 2} {
		if count, _ := counter.CurrentCount(ctx, org); count != 1 {
			t.Fatalf("org %d: expected count 1, got %d", org, count)
		}
	}
}

func TestTrackBatchPreservesOrderAndDedupes(t *testing.T) {
	s, counter := newService()
	ctx := context.Background()

	res, err := s.TrackBatch(ctx, 42, 7, []Identity{
		{Email: "a@example.com"},
		{Email: "b@example.com"},
		{Email: "A@Example.com "}, // duplicate of the first
		{Email: "   "},            // malformed
		{Email: "c@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 5 {
		t.Fatalf("expected 5 processed, got %d", res.Processed)
	}
	if res.NewCount != 3 {
		t.Fatalf("expected 3 new, got %d", res.NewCount)
	}

	wantEmails := []string{"a@example.com", "b@example.com", "a@example.com", "", "c@example.com"}
	for i, want := range wantEmails {
		if res.Items[i].Email != want {
			t.Fatalf("item %d: email %q, want %q", i, res.Items[i].Email, want)
		}
	}
	if !res.Items[0].IsNew || !res.Items[1].IsNew || !res.Items[4].IsNew {
		t.Fatalf("unexpected IsNew flags: %+v", res.Items)
	}
	if res.Items[2].IsNew {
		t.Fatal("in-batch duplicate must not be new")
	}
	if res.Items[2].ContactID != res.Items[0].ContactID {
		t.Fatal("in-batch duplicate must resolve to the winner's id")
	}
	if res.Items[3].Error == "" {
		t.Fatal("malformed entry must carry a per-item error")
	}

	count, _ := counter.CurrentCount(ctx, 42)
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestResetAllowsRetracking(t *testing.T) {
	s, counter := newService()
	ctx := context.Background()

	first, err := s.Track(ctx, 42, 7, Identity{Email: "  Jane@Example.com "})
	if err != nil {
		t.Fatal(err)
	}
	if count, _ := counter.CurrentCount(ctx, 42); count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	ok, err := s.Reset(ctx, 42, "jane@example.com", "dup", "admin1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected reset to succeed")
	}
	if count, _ := counter.CurrentCount(ctx, 42); count != 0 {
		t.Fatalf("expected count 0 after reset, got %d", count)
	}

	history, _ := counter.ResetHistory(ctx, 42)
	if len(history) != 1 || history[0].Actor != "admin1" || history[0].Reason != "dup" || history[0].PreviousCount != 1 {
		t.Fatalf("unexpected reset history: %+v", history)
	}

	again, err := s.Track(ctx, 42, 7, Identity{Email: "jane@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !again.IsNew {
		t.Fatal("re-tracked email must be new after reset")
	}
	if again.ContactID == first.ContactID {
		t.Fatal("re-tracked email must get a fresh contact id")
	}
}

func TestResetMissingContactIsNoop(t *testing.T) {
	s, _ := newService()
	ok, err := s.Reset(context.Background(), 42, "ghost@example.com", "dup", "admin1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no-op for unknown email")
	}
}

func TestConcurrentTrackSameIdentity(t *testing.T) {
	s, counter := newService()
	ctx := context.Background()

	var wg sync.WaitGroup
	N := 50
	results := make([]TrackResult, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Track(ctx, 42, 7, Identity{Email: "Race@Example.com"})
			if err != nil {
				t.Errorf("Track: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	newCount := 0
	for _, res := range results {
		if res.IsNew {
			newCount++
		}
		if res.ContactID != results[0].ContactID {
			t.Fatalf("contact ids diverged: %+v", results)
		}
	}
	if newCount != 1 {
		t.Fatalf("expected exactly one IsNew, got %d", newCount)
	}
	if count, _ := counter.CurrentCount(ctx, 42); count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestListContactsNewestFirst(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := s.Track(ctx, 42, 7, Identity{Email: email}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListContacts(ctx, 42, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(list))
	}
	if list[0].Email != "c@example.com" || list[1].Email != "b@example.com" {
		t.Fatalf("unexpected order: %s, %s", list[0].Email, list[1].Email)
	}

	got, err := s.GetContact(ctx, 42, list[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Email != "c@example.com" {
		t.Fatalf("unexpected contact: %+v", got)
	}
	if _, err := s.GetContact(ctx, 42, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
