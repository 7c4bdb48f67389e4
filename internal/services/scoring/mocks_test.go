package scoring

import (
	"context"
	"time"

	"github.com/fastprodman/gameledger/internal/repos/scores"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/sessions"
	"github.com/stretchr/testify/mock"
)

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) ValidateAndConsume(ctx context.Context, token string, sec security.Context, score int64) (sessions.Session, error) {
	args := m.Called(token, sec.UserID, score)
	return args.Get(0).(sessions.Session), args.Error(1)
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
