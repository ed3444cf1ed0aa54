package usecase

import (
	"sort"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

const defaultRRFK = 60

// fuseRRF combines the dense and sparse candidate lists with reciprocal rank
// fusion: each chunk scores sum(1/(k+rank)) over the lists it appears in,
// rank 1-based. Ties break by the chunk's best raw rank in either list, then
// by insertion order (dense list first), so a fixed pair of inputs always
// produces the same output order.
func fuseRRF(dense, sparse []domain.RetrievalCandidate, rrfK int) []domain.FusedCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	type slot struct {
		cand  domain.FusedCandidate
		order int
	}

	acc := make(map[string]*slot, len(dense)+len(sparse))
	insertions := 0

	addList := func(list []domain.RetrievalCandidate) {
		for i, c := range list {
			rank := i + 1
			if c.RawRank > 0 {
				rank = c.RawRank
			}
			s, ok := acc[c.ChunkID]
			if !ok {
				s = &slot{
					cand: domain.FusedCandidate{
						ChunkID:  c.ChunkID,
						ParentID: c.ParentID,
						Text:     c.Text,
						BestRank: rank,
					},
					order: insertions,
				}
				insertions++
				acc[c.ChunkID] = s
			}
			if c.ParentID != "" && s.cand.ParentID == "" {
				s.cand.ParentID = c.ParentID
			}
			if c.Text != "" && s.cand.Text == "" {
				s.cand.Text = c.Text
			}
			s.cand.FusedScore += 1.0 / float64(rrfK+rank)
			s.cand.ContributingRanks = append(s.cand.ContributingRanks, rank)
			if rank < s.cand.BestRank {
				s.cand.BestRank = rank
			}
		}
	}

	addList(dense)
	addList(sparse)

	slots := make([]*slot, 0, len(acc))
	for _, s := range acc {
		slots = append(slots, s)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].cand.FusedScore != slots[j].cand.FusedScore {
			return slots[i].cand.FusedScore > slots[j].cand.FusedScore
		}
		if slots[i].cand.BestRank != slots[j].cand.BestRank {
			return slots[i].cand.BestRank < slots[j].cand.BestRank
		}
		return slots[i].order < slots[j].order
	})

	out := make([]domain.FusedCandidate, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.cand)
	}
	return out
}

func trimFused(cands []domain.FusedCandidate, limit int) []domain.FusedCandidate {
	if limit <= 0 || len(cands) <= limit {
		return cands
	}
	return cands[:limit]
}
