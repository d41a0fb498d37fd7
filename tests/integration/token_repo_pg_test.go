//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stratumsec/tokend/internal/domain/models"
	"github.com/stratumsec/tokend/internal/domain/repository"
	"github.com/stratumsec/tokend/internal/infrastructure/persistence/postgres"
	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

func setupPostgres(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tokend"),
		tcpostgres.WithUsername("tokend"),
		tcpostgres.WithPassword("tokend"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool, ctx
}

func issuedToken(tokenType constants.TokenType, ttl time.Duration) *models.IssuedToken {
	return models.NewIssuedToken(uuid.NewString(), "user-1", "client-1",
		tokenType, []string{"read", "write"}, "rsa-deadbeef", ttl)
}

func TestTokenRepositoryLifecycle(t *testing.T) {
	pool, ctx := setupPostgres(t)
	repo := postgres.NewTokenRepository(pool, logger.NewNop())

	token := issuedToken(constants.TokenTypeAccess, time.Hour)
	require.NoError(t, repo.Save(ctx, token))

	found, err := repo.FindByID(ctx, token.TokenID)
	require.NoError(t, err)
	assert.Equal(t, token.UserID, found.UserID)
	assert.Equal(t, constants.TokenTypeAccess, found.TokenType)
	assert.Equal(t, []string{"read", "write"}, found.Scopes)
	assert.False(t, found.Revoked)

	_, err = repo.FindByID(ctx, "no-such-token")
	assert.True(t, errors.ErrTokenNotFound.Is(err))

	claimed, err := repo.Revoke(ctx, token.TokenID, constants.RevocationReasonRequested, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second revocation of the same token is not an error but does
	// not claim the row either.
	claimed, err = repo.Revoke(ctx, token.TokenID, constants.RevocationReasonRequested, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = repo.Revoke(ctx, "no-such-token", constants.RevocationReasonRequested, time.Now().UTC())
	assert.True(t, errors.ErrTokenNotFound.Is(err))
}

func TestTokenRepositorySaveBatchIsAtomic(t *testing.T) {
	pool, ctx := setupPostgres(t)
	repo := postgres.NewTokenRepository(pool, logger.NewNop())

	good := issuedToken(constants.TokenTypeAccess, time.Hour)
	dup := issuedToken(constants.TokenTypeRefresh, time.Hour)
	dup.TokenID = good.TokenID // violates the primary key

	err := repo.SaveBatch(ctx, []*models.IssuedToken{good, dup})
	require.Error(t, err)

	// The transaction rolled back; neither row exists.
	_, err = repo.FindByID(ctx, good.TokenID)
	assert.True(t, errors.ErrTokenNotFound.Is(err))
}

func TestTokenRepositorySingleWinnerUnderConcurrentRevocation(t *testing.T) {
	pool, ctx := setupPostgres(t)
	repo := postgres.NewTokenRepository(pool, logger.NewNop())

	token := issuedToken(constants.TokenTypeRefresh, time.Hour)
	require.NoError(t, repo.Save(ctx, token))

	const racers = 8
	claims := make([]bool, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claims[i], errs[i] = repo.Revoke(ctx, token.TokenID,
				constants.RevocationReasonRotated, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		if claims[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one revocation claims the row")
}

func TestTokenRepositoryPruneHonorsCutoffAndLimit(t *testing.T) {
	pool, ctx := setupPostgres(t)
	repo := postgres.NewTokenRepository(pool, logger.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, issuedToken(constants.TokenTypeAccess, -time.Hour)))
	}
	live := issuedToken(constants.TokenTypeAccess, time.Hour)
	require.NoError(t, repo.Save(ctx, live))

	removed, err := repo.DeleteExpiredBefore(ctx, time.Now().UTC(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	removed, err = repo.DeleteExpiredBefore(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = repo.FindByID(ctx, live.TokenID)
	assert.NoError(t, err, "unexpired tokens survive the sweep")
}

func TestRevocationRepositoryIdempotentInsert(t *testing.T) {
	pool, ctx := setupPostgres(t)
	var ledger repository.RevocationRepository = postgres.NewRevocationRepository(pool, logger.NewNop())

	token := issuedToken(constants.TokenTypeAccess, time.Hour)
	entry := models.NewRevocationEntry(token, constants.RevocationReasonCompromised, "admin")

	require.NoError(t, ledger.Insert(ctx, entry))
	require.NoError(t, ledger.Insert(ctx, entry), "duplicate insert is a no-op")

	exists, err := ledger.Exists(ctx, token.TokenID)
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := ledger.FindByID(ctx, token.TokenID)
	require.NoError(t, err)
	assert.Equal(t, constants.RevocationReasonCompromised, found.Reason)
	assert.Equal(t, "admin", found.RevokedBy)

	exists, err = ledger.Exists(ctx, "no-such-token")
	require.NoError(t, err)
	assert.False(t, exists)

	expired := issuedToken(constants.TokenTypeAccess, -time.Hour)
	require.NoError(t, ledger.Insert(ctx, models.NewRevocationEntry(expired, constants.RevocationReasonLogout, "")))
	removed, err := ledger.DeleteExpiredBefore(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
