package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// INFO: https://github.com/go-redis/redis/issues/1029
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
	)
}

func TestAuthService_Login(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	authService := NewAuthService(time.Hour, db)
	require.NotNil(t, authService)
	assert.NotNil(t, authService.redisClient)
	assert.Equal(t, time.Hour, authService.ttl)

	testToken := "test_token"
	authService.RandStringFunc = func(s int) (string, error) {
		assert.Equal(t, tokenLength, s)
		return testToken, nil
	}

	now := time.Now()
	sessionKey := sessionKeyPrefix + testToken
	mock.ExpectHSet(sessionKey, fieldCreatedAt, now.Unix(), fieldUserID, "user-1").SetVal(2)
	mock.ExpectSAdd(tokensSetKey, testToken).SetVal(1)

	token, err := authService.Login(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, testToken, token)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_Login_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	authService := NewAuthService(time.Hour, db)
	authService.RandStringFunc = func(s int) (string, error) {
		return "", errors.New("no entropy")
	}

	token, err := authService.Login(context.Background(), "user-1", time.Now())
	assert.Error(t, err)
	assert.Empty(t, token)

	authService.RandStringFunc = func(s int) (string, error) {
		return "tkn", nil
	}
	now := time.Now()
	mock.ExpectHSet(sessionKeyPrefix+"tkn", fieldCreatedAt, now.Unix(), fieldUserID, "user-1").SetErr(errors.New("redis down"))

	token, err = authService.Login(context.Background(), "user-1", now)
	assert.EqualError(t, err, "redis down")
	assert.Empty(t, token)
}

func TestAuthService_Session(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	authService := NewAuthService(time.Hour, db)
	ctx := context.Background()
	createdAt := time.Unix(1700000000, 0)

	mock.ExpectHGetAll(sessionKeyPrefix + "tkn").SetVal(map[string]string{
		fieldCreatedAt: fmt.Sprintf("%d", createdAt.Unix()),
		fieldUserID:    "user-7",
	})
	session, err := authService.Session(ctx, "tkn")
	require.NoError(t, err)
	assert.Equal(t, &Session{Token: "tkn", UserID: "user-7", CreatedAt: createdAt}, session)

	mock.ExpectHGetAll(sessionKeyPrefix + "missing").SetVal(map[string]string{})
	session, err = authService.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, session)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_Logout(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer db.Close()

	authService := NewAuthService(time.Hour, db)
	ctx := context.Background()

	mock.ExpectDel(sessionKeyPrefix + "tkn").SetVal(1)
	mock.ExpectSRem(tokensSetKey, "tkn").SetVal(1)
	require.NoError(t, authService.Logout(ctx, "tkn"))

	mock.ExpectDel(sessionKeyPrefix + "tkn").SetVal(0)
	mock.ExpectSRem(tokensSetKey, "tkn").SetVal(0)
	assert.ErrorIs(t, authService.Logout(ctx, "tkn"), ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_ScanAndClean(t *testing.T) {
	ttl := time.Hour
	now := time.Now()
	then := now.Add(-2 * time.Hour)

	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	authService := NewAuthService(ttl, rdb)
	require.NotNil(t, authService)

	// expected calls
	t1, t2, t3 := "token1", "token2", "token3"
	mock.ExpectSMembers(tokensSetKey).SetVal([]string{t1, t2, t3})
	mock.ExpectHGet(sessionKeyPrefix+t1, fieldCreatedAt).SetVal(fmt.Sprintf("%d", now.Unix()))
	mock.ExpectHGet(sessionKeyPrefix+t2, fieldCreatedAt).SetVal(fmt.Sprintf("%d", then.Unix()))
	mock.ExpectHGet(sessionKeyPrefix+t3, fieldCreatedAt).RedisNil()
	// t2 is too old, t3 lost its session hash
	mock.ExpectDel(sessionKeyPrefix + t2).SetVal(1)
	mock.ExpectSRem(tokensSetKey, t2).SetVal(1)
	mock.ExpectDel(sessionKeyPrefix + t3).SetVal(0)
	mock.ExpectSRem(tokensSetKey, t3).SetVal(1)

	authService.ScanAndClean(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthService_ScanAndClean_NoSessions(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer rdb.Close()

	authService := NewAuthService(time.Hour, rdb)
	mock.ExpectSMembers(tokensSetKey).SetVal([]string{})

	authService.ScanAndClean(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}
