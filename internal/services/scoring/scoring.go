// Package scoring accepts score submissions and records ranked results.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/repos/scores"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/fastprodman/gameledger/internal/services/sessions"
)

var (
	// ErrSessionRequired rejects a ranked submission that carries no session
	// token.
	ErrSessionRequired = errors.New("game session required for ranked submissions")
	ErrInvalidScore    = errors.New("invalid score")
	ErrStorage         = errors.New("score storage failure")
)

// SessionValidator is the part of the session manager scoring needs.
type SessionValidator interface {
	ValidateAndConsume(ctx context.Context, token string, sec security.Context, score int64) (sessions.Session, error)
}

type Submission struct {
	SessionToken string
	Score        int64
	// Ranked is the client's claim. It is only consulted when no session
	// token is given.
	Ranked bool
	// Legacy clients name the competition themselves.
	GameType      string
	CompetitionID string
	Period        string
	Security      security.Context
}

type Outcome struct {
	Ranked        bool   `json:"ranked"`
	CompetitionID string `json:"competitionId,omitempty"`
	Period        string `json:"period,omitempty"`
	PersonalBest  bool   `json:"personalBest"`
	Legacy        bool   `json:"legacy,omitempty"`
}

type Service struct {
	sessions    SessionValidator
	scores      scores.Scores
	audit       audit.Recorder
	logger      *slog.Logger
	allowLegacy bool
	now         func() time.Time
}

func New(sv SessionValidator, repo scores.Scores, rec audit.Recorder, logger *slog.Logger, cfg config.ScoringConfig) *Service {
	return &Service{
		sessions:    sv,
		scores:      repo,
		audit:       rec,
		logger:      logging.OrDiscard(logger),
		allowLegacy: cfg.AllowLegacyRankedSubmissions,
		now:         time.Now,
	}
}

// Submit routes a submission:
//
// - With a token: the session decides. Any session failure is returned as is;
// there is no fallback to an unranked submission.
// - Without a token and unranked: accepted as practice, nothing stored.
// - Without a token but ranked: ErrSessionRequired, unless legacy ranked
// submissions are enabled.
func (s *Service) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	if sub.Score < 0 {
		return Outcome{}, ErrInvalidScore
	}

	if sub.SessionToken != "" {
		return s.submitWithSession(ctx, sub)
	}

	if !sub.Ranked {
		return Outcome{}, nil
	}

	if !s.allowLegacy {
		return Outcome{}, ErrSessionRequired
	}

	return s.submitLegacy(ctx, sub)
}

func (s *Service) submitWithSession(ctx context.Context, sub Submission) (Outcome, error) {
	sess, err := s.sessions.ValidateAndConsume(ctx, sub.SessionToken, sub.Security, sub.Score)
	if err != nil {
		return Outcome{}, err
	}

	if !sess.Ranked() {
		return Outcome{}, nil
	}

	best, err := s.scores.UpsertBest(ctx, scores.Score{
		CompetitionID: sess.CompetitionID,
		Period:        sess.Period,
		PeriodDate:    sess.PeriodDate,
		UserID:        sess.UserID,
		Score:         sess.Score,
		SessionToken:  sess.Token,
		AchievedAt:    sess.ConsumedAt,
	})
	if err != nil {
		s.logger.Error("record ranked score",
			"user_id", sess.UserID,
			"competition_id", sess.CompetitionID,
			"error", err,
		)
		return Outcome{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return Outcome{
		Ranked:        true,
		CompetitionID: sess.CompetitionID,
		Period:        sess.Period,
		PersonalBest:  best,
	}, nil
}

// submitLegacy accepts an unverified ranked score from an old client. Every
// such submission is flagged on the audit trail.
func (s *Service) submitLegacy(ctx context.Context, sub Submission) (Outcome, error) {
	if sub.Period == "" || (sub.CompetitionID == "" && sub.GameType == "") {
		return Outcome{}, ErrSessionRequired
	}

	competitionID := sub.CompetitionID
	if competitionID == "" {
		competitionID = sub.GameType + "_" + sub.Period
	}

	now := s.now().UTC()

	s.audit.Record(ctx, audit.Event{
		Type:     audit.EventLegacyRankedSubmission,
		Severity: audit.SeverityWarning,
		Details: audit.Details{
			"competition_id": competitionID,
			"period":         sub.Period,
			"score":          sub.Score,
		},
		Security: sub.Security,
	})

	best, err := s.scores.UpsertBest(ctx, scores.Score{
		CompetitionID: competitionID,
		Period:        sub.Period,
		PeriodDate:    now.Truncate(24 * time.Hour),
		UserID:        sub.Security.UserID,
		Score:         sub.Score,
		AchievedAt:    now,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return Outcome{
		Ranked:        true,
		CompetitionID: competitionID,
		Period:        sub.Period,
		PersonalBest:  best,
		Legacy:        true,
	}, nil
}
