package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sashanth17/medicare-scheduling/internal/config"
	"github.com/sashanth17/medicare-scheduling/internal/db"
	"github.com/sashanth17/medicare-scheduling/internal/directory"
	"github.com/sashanth17/medicare-scheduling/internal/logging"
)

// serviceWindows are handed out round robin; nil means no fixed hours.
var serviceWindows = []*directory.ServiceHours{
	{Start: 8 * time.Hour, End: 14 * time.Hour},
	{Start: 9 * time.Hour, End: 17 * time.Hour},
	{Start: 14 * time.Hour, End: 20 * time.Hour},
	nil,
}

func main() {
	doctors := flag.Int("doctors", 20, "number of doctors to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("cmd", "seed").Logger()
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, *doctors, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, faker, *patients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

func fakeUser(faker *gofakeit.Faker, n int) directory.User {
	first := faker.FirstName()
	last := faker.LastName()
	return directory.User{
		Username:    fmt.Sprintf("%s.%s%d", strings.ToLower(first), strings.ToLower(last), n),
		FirstName:   first,
		LastName:    last,
		PhoneNumber: directory.NormalizePhone("+1 " + faker.Phone()),
	}
}

func insertUser(ctx context.Context, tx pgx.Tx, u directory.User) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO users (username, first_name, last_name, phone_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id
	`, u.Username, u.FirstName, u.LastName, u.PhoneNumber).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	return id, nil
}

func clockValue(d time.Duration) string {
	return time.Time{}.Add(d).Format("15:04:05")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		userID, err := insertUser(ctx, tx, fakeUser(faker, i))
		if err != nil {
			return err
		}

		var start, end *string
		if w := serviceWindows[i%len(serviceWindows)]; w != nil {
			s, e := clockValue(w.Start), clockValue(w.End)
			start, end = &s, &e
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO doctors (user_id, service_start, service_end)
			VALUES ($1, $2::time, $3::time)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, start, end)
		if err != nil {
			return fmt.Errorf("insert doctor: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			// patient usernames continue after the doctors' numbering space
			if _, err := insertUser(ctx, tx, fakeUser(faker, 100000+i)); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	logger.Info().Msg("patients seeded")
	return nil
}
