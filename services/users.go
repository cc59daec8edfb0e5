package services

import (
	"context"

	"github.com/google/uuid"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
)

// UserService manages participants and their reputation read model.
type UserService struct {
	store mstore.Store
}

// Profile is a user plus the reputation derived from their counters.
// Reputation is recomputed on every read, never stored.
type Profile struct {
	core.User
	ReputationScore int                     `json:"reputation_score"`
	ReputationTier  core.ReputationTierName `json:"reputation_tier"`
}

func profileOf(u core.User) Profile {
	score := core.ReputationScore(u)
	return Profile{
		User:            u,
		ReputationScore: score,
		ReputationTier:  core.ReputationTier(score, u.TasksCompleted, u.TasksApproved),
	}
}

// Register creates a user keyed by wallet address.
func (s *UserService) Register(ctx context.Context, walletAddress, name string, skills []string) (Profile, error) {
	u, err := s.store.CreateUser(ctx, core.User{
		WalletAddress: walletAddress,
		Name:          name,
		Skills:        skills,
	})
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// Get returns one user's profile.
func (s *UserService) Get(ctx context.Context, id uuid.UUID) (Profile, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// GetByWallet returns the profile for a wallet address.
func (s *UserService) GetByWallet(ctx context.Context, wallet string) (Profile, error) {
	u, err := s.store.GetUserByWallet(ctx, wallet)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// List returns profiles matching the filter plus the unpaginated
// total.
func (s *UserService) List(ctx context.Context, f core.UserFilter) ([]Profile, int, error) {
	users, total, err := s.store.ListUsers(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, profileOf(u))
	}
	return out, total, nil
}

// Verify marks a user identity-verified. Admin only.
func (s *UserService) Verify(ctx context.Context, userID uuid.UUID, actor core.User) (Profile, error) {
	u, err := s.store.VerifyUser(ctx, userID, actor)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// Ban bans a non-admin user. Admin only.
func (s *UserService) Ban(ctx context.Context, userID uuid.UUID, reason string, actor core.User) (Profile, error) {
	u, err := s.store.BanUser(ctx, userID, reason, actor)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// Unban lifts a ban. Admin only.
func (s *UserService) Unban(ctx context.Context, userID uuid.UUID, actor core.User) (Profile, error) {
	u, err := s.store.UnbanUser(ctx, userID, actor)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}
