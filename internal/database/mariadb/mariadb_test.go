//go:build integration

package mariadb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSIS(t *testing.T) *Pool {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mariadb:11",
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MARIADB_ROOT_PASSWORD": "test",
				"MARIADB_DATABASE":      "sis",
			},
			WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("root:test@tcp(%s:%s)/sis?parseTime=true&multiStatements=true", host, port.Port())

	var pool *Pool
	for attempt := 0; attempt < 10; attempt++ {
		pool, err = NewPool(ctx, dsn, "")
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	schema := `
		CREATE TABLE students (student_id VARCHAR(32) PRIMARY KEY, full_name VARCHAR(255));
		CREATE TABLE enrolments (lesson_id VARCHAR(64), student_id VARCHAR(32), enrolled_at DATETIME);
		INSERT INTO students VALUES ('s1', 'Jan Novák'), ('s2', 'Eva Malá'), ('s3', NULL);
		INSERT INTO enrolments VALUES
			('math-1', 's2', '2026-01-01 08:00:00'),
			('math-1', 's1', '2026-01-02 08:00:00'),
			('math-1', 's3', '2026-01-03 08:00:00'),
			('art-1', 's1', '2026-01-01 08:00:00');
	`
	if _, err := pool.db.ExecContext(ctx, schema); err != nil {
		t.Fatalf("Failed to seed SIS: %v", err)
	}
	return pool
}

func TestPool_Roster(t *testing.T) {
	pool := setupSIS(t)
	ctx := context.Background()

	roster, err := pool.Roster(ctx, "math-1")
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	want := []string{"s2", "s1", "s3"}
	if len(roster) != len(want) {
		t.Fatalf("Expected %d members, got %d", len(want), len(roster))
	}
	for i, id := range want {
		if roster[i].StudentID != id {
			t.Errorf("member[%d] = %q, want %q", i, roster[i].StudentID, id)
		}
	}
	if roster[1].Name != "Jan Novák" || roster[2].Name != "" {
		t.Errorf("Unexpected names %+v", roster)
	}

	empty, err := pool.Roster(ctx, "missing")
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected empty roster, got %+v", empty)
	}
}
