package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTokenStoreClaimsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore()

	ok, err := store.Claim(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Claim(ctx, "tok-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresTokenStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresTokenStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO dispatch_tokens").WithArgs("tok-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.Claim(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("INSERT INTO dispatch_tokens").WithArgs("tok-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.Claim(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, ok)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeDynamo struct {
	err   error
	items int
}

func (f *fakeDynamo) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.items++
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoTokenStore(t *testing.T) {
	ctx := context.Background()

	store := NewDynamoTokenStore(&fakeDynamo{}, "dispatch_tokens")
	ok, err := store.Claim(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)

	store = NewDynamoTokenStore(&fakeDynamo{err: &ddbtypes.ConditionalCheckFailedException{}}, "dispatch_tokens")
	ok, err = store.Claim(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, ok, "conditional check failure means the token was already claimed")

	store = NewDynamoTokenStore(&fakeDynamo{err: errors.New("throttled")}, "dispatch_tokens")
	_, err = store.Claim(ctx, "tok-1")
	assert.Error(t, err)
}
