package economy

import (
	"context"
	"time"

	"github.com/fastprodman/gameledger/internal/repos/scores"
	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Execute(ctx context.Context, req ledger.Request) (ledger.Result, error) {
	args := m.Called(req)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *MockLedger) Balance(ctx context.Context, userID uint64) (int64, error) {
	args := m.Called(userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockScores struct {
	mock.Mock
}

func (m *MockScores) UpsertBest(ctx context.Context, s scores.Score) (bool, error) {
	args := m.Called(s)
	return args.Bool(0), args.Error(1)
}

func (m *MockScores) Ranking(ctx context.Context, competitionID, period string, periodDate time.Time, limit int) ([]scores.Score, error) {
	args := m.Called(competitionID, period, periodDate, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]scores.Score), args.Error(1)
}

type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Balance(ctx context.Context, userID uint64) (int64, error) {
	args := m.Called(userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUpstream) Deduct(ctx context.Context, userID uint64, amount int64, key, reason string) (int64, error) {
	args := m.Called(userID, amount, key, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUpstream) Credit(ctx context.Context, userID uint64, amount int64, key, reason string) (int64, error) {
	args := m.Called(userID, amount, key, reason)
	return args.Get(0).(int64), args.Error(1)
}
