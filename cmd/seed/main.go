package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/storage"
)

var topicNames = []string{
	"Study stress",
	"Career orientation",
	"Family relationships",
	"Sleep and anxiety",
	"Substance use",
	"Peer pressure",
	"Grief and loss",
	"Self-esteem",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, "seed", cfg.Env, cfg.Version)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedTopics(ctx, store.Directory, logger); err != nil {
		return err
	}
	consultants, err := seedUsers(ctx, store.Directory, appointment.RoleConsultant, getInt("SEED_CONSULTANTS", 10), logger)
	if err != nil {
		return err
	}
	if _, err := seedUsers(ctx, store.Directory, appointment.RoleMember, getInt("SEED_MEMBERS", 200), logger); err != nil {
		return err
	}

	svc := appointment.NewService(store.Repo, appointment.Collaborators{
		Topics: store.Topics,
		Users:  store.Users,
		Logger: logger,
	}, cfg)
	return seedSlots(ctx, svc, consultants, getInt("SEED_DAYS", 7), cfg.Location, logger)
}

func seedTopics(ctx context.Context, dir storage.Directory, logger *slog.Logger) error {
	for _, name := range topicNames {
		t := &appointment.Topic{
			Name:        name,
			Description: gofakeit.Phrase(),
			Active:      true,
		}
		if err := dir.CreateTopic(ctx, t); err != nil {
			return err
		}
		logger.Info("topic created", "topic_id", t.ID, "name", t.Name)
	}
	return nil
}

func seedUsers(ctx context.Context, dir storage.Directory, role appointment.Role, count int, logger *slog.Logger) ([]*appointment.User, error) {
	logger.Info("seeding users", "role", string(role), "count", count)

	users := make([]*appointment.User, 0, count)
	for i := 0; i < count; i++ {
		u := &appointment.User{
			FullName: gofakeit.Name(),
			Email:    gofakeit.Email(),
			Phone:    gofakeit.Phone(),
			Role:     role,
			Enabled:  true,
		}
		if err := dir.CreateUser(ctx, u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// seedSlots opens every consultant's working day, 08:00 to 17:00, for the
// next days, skipping a random lunch hour.
func seedSlots(ctx context.Context, svc *appointment.Service, consultants []*appointment.User, days int, loc *time.Location, logger *slog.Logger) error {
	tomorrow := caltime.DateOf(time.Now().In(loc)).AddDays(1)

	created := 0
	for _, c := range consultants {
		lunch := gofakeit.Number(11, 13)
		for d := 0; d < days; d++ {
			date := tomorrow.AddDays(d)
			for hour := 8; hour < 17; hour++ {
				if hour == lunch {
					continue
				}
				_, err := svc.CreateSlot(ctx, c.ID, date, caltime.NewTimeOfDay(hour, 0), caltime.NewTimeOfDay(hour+1, 0))
				if errors.Is(err, appointment.ErrDuplicateSlot) {
					continue
				}
				if err != nil {
					return err
				}
				created++
			}
		}
	}

	logger.Info("slots seeded", "count", created, "consultants", len(consultants), "days", days)
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
