package marketplace

// ReputationTierName classifies workers by history.
type ReputationTierName string

const (
	TierNew         ReputationTierName = "new"
	TierActive      ReputationTierName = "active"
	TierEstablished ReputationTierName = "established"
	TierExpert      ReputationTierName = "expert"
)

// ReputationScore computes a user's score from their counters. It is a
// pure function recomputed on demand, never maintained incrementally.
//
// Base: +10 per completed task, capped at 500. Approval-rate bonus up
// to 200. +20 per dispute won, -50 per dispute lost. Floored at 0.
func ReputationScore(u User) int {
	score := u.TasksCompleted * 10
	if score > 500 {
		score = 500
	}
	if u.TasksCompleted > 0 {
		score += int(float64(u.TasksApproved) / float64(u.TasksCompleted) * 200)
	}
	score += u.DisputesWon * 20
	score -= u.DisputesLost * 50
	if score < 0 {
		score = 0
	}
	return score
}

// ReputationTier derives the tier from score and task counters.
func ReputationTier(score, tasksCompleted, tasksApproved int) ReputationTierName {
	if tasksCompleted == 0 {
		return TierNew
	}
	rate := float64(tasksApproved) / float64(tasksCompleted)
	switch {
	case tasksCompleted >= 50 && rate >= 0.9 && score >= 600:
		return TierExpert
	case tasksCompleted >= 20 && rate >= 0.8 && score >= 300:
		return TierEstablished
	case tasksCompleted >= 5 && score >= 50:
		return TierActive
	default:
		return TierNew
	}
}
