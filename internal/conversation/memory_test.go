package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func TestAppendAndHistory(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	if err := s.Append(ctx, "c1", userMsg("one"), userMsg("two")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	history, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Content != "one" || history[1].Content != "two" {
		t.Fatalf("history = %+v", history)
	}

	other, _ := s.History(ctx, "c2")
	if len(other) != 0 {
		t.Fatalf("unrelated conversation has %d messages", len(other))
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_ = s.Append(ctx, "c1", userMsg("original"))

	history, _ := s.History(ctx, "c1")
	history[0].Content = "mutated"

	again, _ := s.History(ctx, "c1")
	if again[0].Content != "original" {
		t.Fatal("stored history was mutated through a returned slice")
	}
}

func TestBoundedTrimKeepsTail(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.Append(ctx, "c1", userMsg(fmt.Sprintf("m%d", i)))
	}
	history, _ := s.History(ctx, "c1")
	if len(history) != 3 {
		t.Fatalf("len = %d, want 3", len(history))
	}
	if history[0].Content != "m2" || history[2].Content != "m4" {
		t.Fatalf("history = %+v, want the newest three", history)
	}
}

func TestReplaceAndClear(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_ = s.Append(ctx, "c1", userMsg("old"))

	if err := s.Replace(ctx, "c1", []models.Message{userMsg("new")}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	history, _ := s.History(ctx, "c1")
	if len(history) != 1 || history[0].Content != "new" {
		t.Fatalf("history = %+v", history)
	}

	if err := s.Clear(ctx, "c1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	history, _ = s.History(ctx, "c1")
	if len(history) != 0 {
		t.Fatalf("history after clear = %+v", history)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := NewMemoryStore(1000)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = s.Append(ctx, "c1", userMsg(fmt.Sprintf("w%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()
	history, _ := s.History(ctx, "c1")
	if len(history) != 200 {
		t.Fatalf("len = %d, want 200", len(history))
	}
}
