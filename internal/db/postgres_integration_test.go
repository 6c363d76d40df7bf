//go:build integration

package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"trackflow/internal/apperr"
)

// newPostgresDB starts a throwaway Postgres container and opens the store
// against it with the Postgres migrations applied.
func newPostgresDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "trackflow",
				"POSTGRES_PASSWORD": "trackflow",
				"POSTGRES_DB":       "trackflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatal(err)
	}
	dsn := fmt.Sprintf("postgres://trackflow:trackflow@%s:%s/trackflow?sslmode=disable", host, port.Port())

	database, err := New(Config{Driver: "postgres", DSN: dsn, MigrationsPath: "./migrations"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open Postgres store: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestPostgresStore(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()

	if db.DriverKind() != "postgres" {
		t.Fatalf("Expected postgres driver, got %s", db.DriverKind())
	}

	owner := createTestUser(t, db, "owner@example.com")
	member := createTestUser(t, db, "member@example.com")

	t.Run("unique email maps to conflict", func(t *testing.T) {
		err := db.CreateUser(ctx, &User{Name: "Dup", Email: "OWNER@example.com", PasswordHash: "h"})
		if !apperr.IsConflict(err) {
			t.Errorf("Expected conflict, got %v", err)
		}
	})

	p := seedProject(t, db, owner, member)
	done := seedTask(t, db, p.ID, owner, TaskCompleted)
	seedTask(t, db, p.ID, owner, TaskTodo)

	t.Run("progress", func(t *testing.T) {
		got, err := db.RecomputeProjectProgress(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Progress != 50 || got.Status != ProjectInProgress {
			t.Errorf("progress=%d status=%s, want 50 in-progress", got.Progress, got.Status)
		}
	})

	t.Run("time logs and hours", func(t *testing.T) {
		date := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		if err := db.CreateTimeLog(ctx, &TimeLog{TaskID: done.ID, ProjectID: p.ID, UserID: member, Hours: 2.5, Date: date}); err != nil {
			t.Fatal(err)
		}
		total, err := db.RecomputeTaskHours(ctx, done.ID)
		if err != nil {
			t.Fatal(err)
		}
		if total != 2.5 {
			t.Errorf("RecomputeTaskHours = %v, want 2.5", total)
		}
	})

	t.Run("transaction rollback", func(t *testing.T) {
		err := db.InTx(ctx, func(tx *Tx) error {
			if err := tx.CreateUser(ctx, &User{Name: "Ghost", Email: "ghost@example.com", PasswordHash: "h"}); err != nil {
				return err
			}
			return fmt.Errorf("abort")
		})
		if err == nil {
			t.Fatal("Expected InTx to return the callback error")
		}
		if _, err := db.GetUserByEmail(ctx, "ghost@example.com"); !apperr.IsNotFound(err) {
			t.Errorf("Expected rolled back user to be absent, got %v", err)
		}
	})

	t.Run("pomodoro daily upsert", func(t *testing.T) {
		d := &PomodoroDaily{UserID: member, Day: "2026-03-14", FocusCompleted: 1, FocusMinutes: 25}
		if err := db.UpsertPomodoroDaily(ctx, d); err != nil {
			t.Fatal(err)
		}
		d.FocusCompleted = 3
		if err := db.UpsertPomodoroDaily(ctx, d); err != nil {
			t.Fatal(err)
		}
		rows, err := db.ListPomodoroDaily(ctx, member, "2026-03-01", "2026-03-31")
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 || rows[0].FocusCompleted != 3 {
			t.Errorf("rows = %+v", rows)
		}
	})

	t.Run("cascade delete", func(t *testing.T) {
		if _, err := db.DeleteProjectCascade(ctx, p.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := db.GetTask(ctx, done.ID); !apperr.IsNotFound(err) {
			t.Errorf("Expected task to be gone, got %v", err)
		}
	})
}
