package users

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func strPtr(s string) *string { return &s }

func TestInMemoryRepositoryCreateAndFind(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	created, err := repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com", Name: strPtr("A B")})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("expected repository to assign an id")
	}

	found, err := repo.FindBySubject(ctx, "user_1")
	if err != nil {
		t.Fatalf("FindBySubject returned error: %v", err)
	}
	if found == nil || found.ID != created.ID || found.Email != "a@b.com" {
		t.Fatalf("unexpected user: %+v", found)
	}

	missing, err := repo.FindBySubject(ctx, "user_2")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown subject, got %+v, %v", missing, err)
	}
}

func TestInMemoryRepositoryRejectsDuplicateSubject(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	if _, err := repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	_, err := repo.Create(ctx, User{SubjectID: "user_1", Email: "other@b.com"})
	if !errors.Is(err, ErrDuplicateSubject) {
		t.Fatalf("expected ErrDuplicateSubject, got %v", err)
	}
}

func TestInMemoryRepositoryConcurrentCreatesKeepOneRecord(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com"})
		}()
	}
	wg.Wait()

	if repo.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", repo.Len())
	}
}

func TestInMemoryRepositoryPatchLeavesAbsentFields(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	created, _ := repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com", Name: strPtr("A B"), Image: strPtr("img.png")})

	updated, err := repo.Patch(ctx, created.ID, Patch{Email: strPtr("new@b.com")})
	if err != nil {
		t.Fatalf("Patch returned error: %v", err)
	}
	if updated.Email != "new@b.com" {
		t.Fatalf("expected email to change, got %q", updated.Email)
	}
	if updated.Name == nil || *updated.Name != "A B" || updated.Image == nil || *updated.Image != "img.png" {
		t.Fatalf("expected name and image untouched, got %+v", updated)
	}
}

func TestInMemoryRepositoryPatchAndDeleteMissing(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	if _, err := repo.Patch(ctx, uuid.New(), Patch{Email: strPtr("x@y.z")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Patch, got %v", err)
	}
	if err := repo.Delete(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Delete, got %v", err)
	}
}

func TestInMemoryRepositoryDeleteFreesSubject(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	created, _ := repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com"})
	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	found, _ := repo.FindBySubject(ctx, "user_1")
	if found != nil {
		t.Fatalf("expected subject to be gone, got %+v", found)
	}
	if _, err := repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com"}); err != nil {
		t.Fatalf("expected subject to be reusable after delete, got %v", err)
	}
}

func TestInMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository(nil)
	ctx := context.Background()

	_, _ = repo.Create(ctx, User{SubjectID: "user_1", Email: "a@b.com", Name: strPtr("A")})
	found, _ := repo.FindBySubject(ctx, "user_1")
	*found.Name = "mutated"

	again, _ := repo.FindBySubject(ctx, "user_1")
	if *again.Name != "A" {
		t.Fatalf("expected stored record to be isolated from callers, got %q", *again.Name)
	}
}

func TestPatchChanges(t *testing.T) {
	user := User{Email: "a@b.com", Name: strPtr("A B")}

	same := Patch{Email: strPtr("a@b.com"), Name: strPtr("A B")}.Changes(user)
	if !same.Empty() {
		t.Fatalf("expected no changes, got %+v", same)
	}

	diff := Patch{Email: strPtr("a@b.com"), Image: strPtr("img.png")}.Changes(user)
	if diff.Email != nil || diff.Image == nil || *diff.Image != "img.png" {
		t.Fatalf("expected only image to change, got %+v", diff)
	}
}
