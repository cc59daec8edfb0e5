package marketplace

import "github.com/google/uuid"

// DisputeLoser determines whose disputes_lost counter increments when a
// dispute resolves. The loser is always a single concrete party:
//
//   - If the raiser did not win, the raiser loses.
//   - If the raiser won, the opposing side of the review relationship
//     loses: the task client when a worker-side party (claimant or
//     collaborator) won, the claimant when the client won.
//
// Returns uuid.Nil when no opposing party exists (e.g. the client wins
// a dispute on an unclaimed subtask).
func DisputeLoser(d Dispute, winnerID uuid.UUID, sub Subtask, task Task) uuid.UUID {
	if d.RaisedBy != winnerID {
		return d.RaisedBy
	}
	if winnerID == task.ClientID {
		if sub.ClaimedBy != nil {
			return *sub.ClaimedBy
		}
		return uuid.Nil
	}
	return task.ClientID
}

// DisputeOutcome maps the winner to the subtask status a resolution
// forces: approved when the claimant prevailed, rejected otherwise.
func DisputeOutcome(winnerID uuid.UUID, sub Subtask) SubtaskStatus {
	if sub.ClaimedBy != nil && *sub.ClaimedBy == winnerID {
		return SubtaskApproved
	}
	return SubtaskRejected
}
