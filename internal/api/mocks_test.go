package api

import (
	"context"

	"github.com/fastprodman/gameledger/internal/repos/entries"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/economy"
	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/fastprodman/gameledger/internal/services/ratelimit"
	"github.com/fastprodman/gameledger/internal/services/scoring"
	"github.com/fastprodman/gameledger/internal/services/sessions"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct{ mock.Mock }

func (m *MockLedger) Balance(ctx context.Context, userID uint64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) History(ctx context.Context, userID uint64, limit int) ([]entries.Entry, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]entries.Entry), args.Error(1)
}

func (m *MockLedger) Reconcile(ctx context.Context, userID uint64) (ledger.Report, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(ledger.Report), args.Error(1)
}

type MockSessions struct{ mock.Mock }

func (m *MockSessions) Create(ctx context.Context, p sessions.CreateParams) (sessions.Issued, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(sessions.Issued), args.Error(1)
}

type MockScoring struct{ mock.Mock }

func (m *MockScoring) Submit(ctx context.Context, sub scoring.Submission) (scoring.Outcome, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(scoring.Outcome), args.Error(1)
}

type MockEconomy struct{ mock.Mock }

func (m *MockEconomy) EnterCompetition(ctx context.Context, sec security.Context, competitionID string, fee int64) (ledger.Result, error) {
	args := m.Called(ctx, sec, competitionID, fee)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *MockEconomy) RefundEntry(ctx context.Context, sec security.Context, competitionID string, fee int64) (ledger.Result, error) {
	args := m.Called(ctx, sec, competitionID, fee)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *MockEconomy) ClaimDailyBonus(ctx context.Context, sec security.Context) (ledger.Result, error) {
	args := m.Called(ctx, sec)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *MockEconomy) SyncExternal(ctx context.Context, sec security.Context) (ledger.Result, error) {
	args := m.Called(ctx, sec)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *MockEconomy) AdminAdjust(ctx context.Context, admin security.Context, userID uint64, amount int64, reason, key string) (ledger.Result, error) {
	args := m.Called(ctx, admin, userID, amount, reason, key)
	return args.Get(0).(ledger.Result), args.Error(1)
}

func (m *MockEconomy) Settle(ctx context.Context, p economy.SettleParams) (economy.Settlement, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(economy.Settlement), args.Error(1)
}

type MockLimiter struct{ mock.Mock }

func (m *MockLimiter) CheckAndConsume(ctx context.Context, userID uint64, endpoint string) ratelimit.Decision {
	args := m.Called(ctx, userID, endpoint)
	return args.Get(0).(ratelimit.Decision)
}
