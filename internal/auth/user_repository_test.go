package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserRepository_CreateAndGetByID(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	hash, _ := HashPassword("password123")
	user := &User{
		Username:     "testuser",
		Email:        "test@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}

	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Fatal("Create() should generate an ID")
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Username != "testuser" {
		t.Errorf("Username = %q, want %q", got.Username, "testuser")
	}
	if got.Email != "test@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "test@example.com")
	}
	if !got.IsActive {
		t.Error("IsActive should be true")
	}
	if got.PasswordHash == "" {
		t.Error("PasswordHash should be populated")
	}
	if got.FailedLogins != 0 {
		t.Errorf("FailedLogins = %d, want 0", got.FailedLogins)
	}
	if got.LockedUntil != nil {
		t.Errorf("LockedUntil = %v, want nil", got.LockedUntil)
	}
}

func TestUserRepository_GetByUsername(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "sensor-owner", "password123")

	got, err := repo.GetByUsername(ctx, "sensor-owner")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}

	if got.ID != user.ID {
		t.Errorf("ID = %q, want %q", got.ID, user.ID)
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "esp32-owner", "password123")

	got, err := repo.GetByEmail(ctx, "esp32-owner@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}

	if got.ID != user.ID {
		t.Errorf("ID = %q, want %q", got.ID, user.ID)
	}
}

func TestUserRepository_GetByUsername_NotFound(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	_, err := repo.GetByUsername(context.Background(), "nonexistent")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_DuplicateUsername(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	seedTestUser(t, db, "duplicate", "password123")

	hash, _ := HashPassword("password123")
	again := &User{
		Username:     "duplicate",
		Email:        "other@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
	err := repo.Create(ctx, again)
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("error = %v, want ErrUsernameExists", err)
	}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	seedTestUser(t, db, "first", "password123")

	hash, _ := HashPassword("password123")
	again := &User{
		Username:     "second",
		Email:        "first@example.com",
		PasswordHash: hash,
		IsActive:     true,
	}
	err := repo.Create(ctx, again)
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("error = %v, want ErrEmailExists", err)
	}
}

func TestUserRepository_UpdateProfile(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "profile", "password123")

	user.Email = "new-address@example.com"
	if err := repo.UpdateProfile(ctx, user); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Email != "new-address@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "new-address@example.com")
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "rotating", "old-password")

	newHash, _ := HashPassword("new-password")
	if err := repo.UpdatePassword(ctx, user.ID, newHash); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	ok, err := VerifyPassword("new-password", got.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("new password should verify after update")
	}
}

func TestUserRepository_UpdatePassword_NotFound(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	err := repo.UpdatePassword(context.Background(), "usr-missing", "hash")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_RecordLoginFailure_LocksAtThreshold(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "bruteforced", "password123")

	for i := 1; i < 5; i++ {
		locked, err := repo.RecordLoginFailure(ctx, user.ID, 5, 15*time.Minute)
		if err != nil {
			t.Fatalf("RecordLoginFailure() #%d error = %v", i, err)
		}
		if locked {
			t.Fatalf("account locked after %d failures, threshold is 5", i)
		}
	}

	locked, err := repo.RecordLoginFailure(ctx, user.ID, 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("RecordLoginFailure() #5 error = %v", err)
	}
	if !locked {
		t.Fatal("account should lock on the 5th failure")
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FailedLogins != 5 {
		t.Errorf("FailedLogins = %d, want 5", got.FailedLogins)
	}
	if got.LockedUntil == nil {
		t.Fatal("LockedUntil should be set")
	}
	if !got.LockedUntil.After(time.Now().UTC()) {
		t.Errorf("LockedUntil = %v, should be in the future", got.LockedUntil)
	}
}

func TestUserRepository_ResetLoginFailures(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "forgiven", "password123")

	for i := 0; i < 5; i++ {
		if _, err := repo.RecordLoginFailure(ctx, user.ID, 5, 15*time.Minute); err != nil {
			t.Fatalf("RecordLoginFailure() error = %v", err)
		}
	}

	if err := repo.ResetLoginFailures(ctx, user.ID); err != nil {
		t.Fatalf("ResetLoginFailures() error = %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FailedLogins != 0 {
		t.Errorf("FailedLogins = %d, want 0", got.FailedLogins)
	}
	if got.LockedUntil != nil {
		t.Errorf("LockedUntil = %v, want nil", got.LockedUntil)
	}
}

func TestUserRepository_Count(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}

	seedTestUser(t, db, "one", "password123")
	seedTestUser(t, db, "two", "password123")

	count, err = repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}
