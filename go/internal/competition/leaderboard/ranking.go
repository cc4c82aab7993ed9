package leaderboard

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/PTMAbellana/polegion/go/internal/models"
)

// Less is the leaderboard's total order: XP desc, total time asc, last submission asc
// (participants who never submitted go last), then participant id.
func Less(a, b models.LeaderboardEntry) bool {
	if a.AccumulatedXP != b.AccumulatedXP {
		return a.AccumulatedXP > b.AccumulatedXP
	}
	if a.TotalTime != b.TotalTime {
		return a.TotalTime < b.TotalTime
	}
	switch {
	case a.LastSubmissionAt == nil && b.LastSubmissionAt != nil:
		return false
	case a.LastSubmissionAt != nil && b.LastSubmissionAt == nil:
		return true
	case a.LastSubmissionAt != nil && !a.LastSubmissionAt.Equal(*b.LastSubmissionAt):
		return a.LastSubmissionAt.Before(*b.LastSubmissionAt)
	}
	return bytes.Compare(a.RoomParticipantID[:], b.RoomParticipantID[:]) < 0
}

// Rank sorts entries in place and assigns ranks 1..n.
func Rank(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Fold derives one entry per participant from the ledger. Participants with no
// attempts are included with zero totals.
func Fold(participants []models.RoomParticipant, attempts []models.CompetitionAttempt, txs []models.XPTransaction) []models.LeaderboardEntry {
	byID := make(map[uuid.UUID]*models.LeaderboardEntry, len(participants))
	order := make([]uuid.UUID, 0, len(participants))

	entry := func(id uuid.UUID) *models.LeaderboardEntry {
		if e, ok := byID[id]; ok {
			return e
		}
		e := &models.LeaderboardEntry{RoomParticipantID: id}
		byID[id] = e
		order = append(order, id)
		return e
	}

	for _, p := range participants {
		entry(p.ID).UserID = p.UserID
	}

	for _, t := range txs {
		entry(t.RoomParticipantID).AccumulatedXP += t.XPDelta
	}

	for _, a := range attempts {
		e := entry(a.RoomParticipantID)
		if a.Correct {
			e.SolvedCount++
		}
		e.TotalTime += a.TimeTaken
		if e.LastSubmissionAt == nil || a.SubmittedAt.After(*e.LastSubmissionAt) {
			at := a.SubmittedAt
			e.LastSubmissionAt = &at
		}
	}

	out := make([]models.LeaderboardEntry, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}
