package directory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/directory"
)

func setupDirectory(t *testing.T) *directory.SQLDirectory {
	t.Helper()

	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.MigrateSQLite(ctx, sqlDB))

	return directory.NewSQLDirectory(sqlDB)
}

func TestSQLDirectory(t *testing.T) {
	ctx := context.Background()
	dir := setupDirectory(t)

	topic := &appointment.Topic{Name: "Study stress", Active: true}
	require.NoError(t, dir.CreateTopic(ctx, topic))

	got, err := dir.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, "Study stress", got.Name)
	assert.True(t, got.Active)

	user := &appointment.User{FullName: "Tran Minh", Email: "minh@example.com", Role: appointment.RoleConsultant, Enabled: true}
	require.NoError(t, dir.CreateUser(ctx, user))

	gotUser, err := dir.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.RoleConsultant, gotUser.Role)
	assert.Equal(t, "minh@example.com", gotUser.Email)

	_, err = dir.GetTopic(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrTopicNotFound)
	_, err = dir.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrUserNotFound)
}

func TestCache_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	dir := setupDirectory(t)

	topic := &appointment.Topic{Name: "Family", Active: true}
	require.NoError(t, dir.CreateTopic(ctx, topic))

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	cache := directory.NewCache(dir, dir, rdb, time.Minute, nil)

	got, err := cache.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, "Family", got.Name)

	_, err = cache.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrUserNotFound)
}
