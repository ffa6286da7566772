package store_test

import (
	"testing"
	"time"

	"github.com/Shenoy37/voicenotes/internal/store"
	"github.com/Shenoy37/voicenotes/internal/testutil"
)

func TestUserStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := store.New(db)

	t.Run("CreateAndCount", func(t *testing.T) {
		count, err := st.CountUsers()
		if err != nil {
			t.Fatalf("Failed to count users: %v", err)
		}
		if count != 0 {
			t.Fatalf("Expected empty users table, got %d", count)
		}

		user, err := st.CreateUser("alice", "hashed-password", "admin")
		if err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
		if user.Username != "alice" || user.Role != "admin" {
			t.Errorf("Unexpected user: %+v", user)
		}

		count, _ = st.CountUsers()
		if count != 1 {
			t.Errorf("Expected 1 user, got %d", count)
		}
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		if _, err := st.CreateUser("alice", "other-hash", "user"); err == nil {
			t.Error("Expected duplicate username to fail")
		}
	})

	t.Run("GetByUsername", func(t *testing.T) {
		user, err := st.GetUserByUsername("alice")
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if user.PasswordHash != "hashed-password" {
			t.Errorf("Password hash not returned for auth: %q", user.PasswordHash)
		}

		if _, err := st.GetUserByUsername("nobody"); err == nil {
			t.Error("Expected unknown username to fail")
		}
	})
}

func TestSessions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := store.New(db)

	user, err := st.CreateUser("bob", "hash", "user")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	token, err := st.CreateSession(user.ID)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if token == "" {
		t.Fatal("Expected a non-empty session token")
	}

	t.Run("LookupByToken", func(t *testing.T) {
		got, err := st.GetUserFromSession(token)
		if err != nil {
			t.Fatalf("Failed to resolve session: %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("Session resolved to user %d, want %d", got.ID, user.ID)
		}
	})

	t.Run("UnknownToken", func(t *testing.T) {
		if _, err := st.GetUserFromSession("bogus"); err == nil {
			t.Error("Expected unknown token to fail")
		}
	})

	t.Run("DeleteSession", func(t *testing.T) {
		if err := st.DeleteSession(token); err != nil {
			t.Fatalf("Failed to delete session: %v", err)
		}
		if _, err := st.GetUserFromSession(token); err == nil {
			t.Error("Expected deleted session to be invalid")
		}
	})

	t.Run("DeleteExpiredSessions", func(t *testing.T) {
		fresh, _ := st.CreateSession(user.ID)

		// Manufacture one expired session directly.
		_, err := db.Exec(
			"INSERT INTO sessions (token, user_id, expiry) VALUES (?, ?, ?)",
			"stale-token", user.ID, time.Now().Add(-24*time.Hour),
		)
		if err != nil {
			t.Fatalf("Failed to insert expired session: %v", err)
		}

		removed, err := st.DeleteExpiredSessions()
		if err != nil {
			t.Fatalf("Failed to prune sessions: %v", err)
		}
		if removed != 1 {
			t.Errorf("Expected 1 pruned session, got %d", removed)
		}
		if _, err := st.GetUserFromSession(fresh); err != nil {
			t.Errorf("Fresh session was pruned: %v", err)
		}
	})
}
