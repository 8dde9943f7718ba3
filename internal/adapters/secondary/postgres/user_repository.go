package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// UserRepository resolves display names for the real-time layer.
type UserRepository struct {
	pool *pgxpool.Pool
}

var _ ports.UserDirectory = (*UserRepository)(nil)

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetDisplayNames loads names for userIDs. Ids without a row are absent
// from the result.
func (r *UserRepository) GetDisplayNames(ctx context.Context, userIDs []int64) (map[int64]domain.UserName, error) {
	names := make(map[int64]domain.UserName, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	const query = `
SELECT id, first_name, last_name, email
FROM users
WHERE id = ANY($1)
`

	rows, err := GetDBTX(ctx, r.pool).Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query display names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        int64
			firstName pgtype.Text
			lastName  pgtype.Text
			email     string
		)
		if err := rows.Scan(&id, &firstName, &lastName, &email); err != nil {
			return nil, fmt.Errorf("scan display name: %w", err)
		}
		names[id] = domain.UserName{
			UserID:    id,
			FirstName: fromText(firstName),
			LastName:  fromText(lastName),
			Email:     email,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate display names: %w", err)
	}
	return names, nil
}

// fromText converts a nullable text column, mapping NULL to "".
func fromText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}
