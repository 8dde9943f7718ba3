package postgres

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// testPool is a global connection pool used by all tests in this package.
var testPool *pgxpool.Pool

// TestMain sets up and tears down the test database container.
func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	log.Println("Setting up PostgreSQL container...")
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("could not start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("could not terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("could not get connection string: %v", err)
	}

	// postgres -> secondary -> adapters -> internal -> project root
	if err := Migrate(connStr, "../../../../migrations", slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		log.Fatalf("could not run migrations: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("could not create connection pool: %v", err)
	}
	defer testPool.Close()

	return m.Run()
}

// seedUser inserts a user with a unique email and returns its id.
func seedUser(t *testing.T, firstName, lastName string) int64 {
	t.Helper()
	require.NotNil(t, testPool, "testPool is nil. TestMain may not have run.")

	var first, last any
	if firstName != "" {
		first = firstName
	}
	if lastName != "" {
		last = lastName
	}

	var id int64
	err := testPool.QueryRow(context.Background(),
		`INSERT INTO users (email, first_name, last_name) VALUES ($1, $2, $3) RETURNING id`,
		uuid.NewString()+"@example.com", first, last,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// seedProject inserts a project owned by ownerID with the given members.
func seedProject(t *testing.T, ownerID int64, memberIDs ...int64) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := testPool.QueryRow(ctx,
		`INSERT INTO projects (name, owner_id) VALUES ($1, $2) RETURNING id`,
		"Project "+uuid.NewString()[:8], ownerID,
	).Scan(&id)
	require.NoError(t, err)

	for _, userID := range append([]int64{ownerID}, memberIDs...) {
		_, err := testPool.Exec(ctx,
			`INSERT INTO project_members (project_id, user_id) VALUES ($1, $2)`, id, userID)
		require.NoError(t, err)
	}
	return id
}

// seedBug inserts a bug into projectID reported by reporterID.
func seedBug(t *testing.T, projectID, reporterID int64) int64 {
	t.Helper()

	var id int64
	err := testPool.QueryRow(context.Background(),
		`INSERT INTO bugs (project_id, title, reporter_id) VALUES ($1, $2, $3) RETURNING id`,
		projectID, "Crash on save", reporterID,
	).Scan(&id)
	require.NoError(t, err)
	return id
}
