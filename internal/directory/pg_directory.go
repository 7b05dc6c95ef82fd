package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sashanth17/medicare-scheduling/internal/db"
)

// searchLimit caps how many candidates a name search pulls back; only the
// first one is ever used for booking.
const searchLimit = 50

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type PgDoctors struct {
	pool *pgxpool.Pool
}

func NewPgDoctors(pool *pgxpool.Pool) *PgDoctors {
	return &PgDoctors{pool: pool}
}

func doctorSelect() sq.SelectBuilder {
	return db.Psql.Select(
		"d.id",
		"d.service_start",
		"d.service_end",
		"u.id",
		"u.username",
		"u.first_name",
		"u.last_name",
		"u.phone_number",
	).
		From("doctors d").
		Join("users u ON u.id = d.user_id")
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var start, end pgtype.Time
	var phone *string

	err := row.Scan(
		&d.ID,
		&start,
		&end,
		&d.User.ID,
		&d.User.Username,
		&d.User.FirstName,
		&d.User.LastName,
		&phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if phone != nil {
		d.User.PhoneNumber = *phone
	}
	if start.Valid && end.Valid {
		d.ServiceHours = &ServiceHours{
			Start: time.Duration(start.Microseconds) * time.Microsecond,
			End:   time.Duration(end.Microseconds) * time.Microsecond,
		}
	}

	return &d, nil
}

func (r *PgDoctors) FindByID(ctx context.Context, id int64) (*Doctor, error) {
	query, args, err := doctorSelect().Where(sq.Eq{"d.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build doctor query: %w", err)
	}
	return scanDoctor(r.pool.QueryRow(ctx, query, args...))
}

func (r *PgDoctors) SearchByNameSubstring(ctx context.Context, q string) ([]Doctor, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(q)) + "%"

	query, args, err := doctorSelect().
		Where(sq.Or{
			sq.ILike{"u.first_name": pattern},
			sq.ILike{"u.last_name": pattern},
			sq.ILike{"u.username": pattern},
		}).
		OrderBy("d.id ASC").
		Limit(searchLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build doctor search: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search doctors: %w", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type PgUsers struct {
	pool *pgxpool.Pool
}

func NewPgUsers(pool *pgxpool.Pool) *PgUsers {
	return &PgUsers{pool: pool}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var phone *string

	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	if phone != nil {
		u.PhoneNumber = *phone
	}
	return &u, nil
}

func (r *PgUsers) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, phone_number
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

// FindByPhone matches the stored number exactly; numbers are normalized on
// write. Should two accounts share a number the oldest wins.
func (r *PgUsers) FindByPhone(ctx context.Context, phone string) (*User, error) {
	if phone == "" {
		return nil, ErrPatientNotFound
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, phone_number
		FROM users
		WHERE phone_number = $1
		ORDER BY id ASC
		LIMIT 1
	`, phone)
	return scanUser(row)
}
