package workflow

import "time"

// LevelStat counts approvals recorded at one level.
type LevelStat struct {
	Level         int `json:"level"`
	ApprovedCount int `json:"approved_count"`
	Total         int `json:"total"`
}

// LevelStats is the read-side aggregate for one template.
type LevelStats struct {
	LevelStats          []LevelStat   `json:"level_stats"`
	Total               int           `json:"total"`
	Approved            int           `json:"approved"`
	Rejected            int           `json:"rejected"`
	Pending             int           `json:"pending"`
	CompletionRate      float64       `json:"completion_rate"`
	AvgApprovalDuration time.Duration `json:"-"`
	AvgApprovalSeconds  float64       `json:"avg_approval_duration_seconds"`
}

// ComputeLevelStats aggregates submissions of one template. Drafts are not
// counted. A level's approved count includes submissions rejected further
// down the chain. CompletionRate is a percentage.
func ComputeLevelStats(subs []*Submission, flow Flow) LevelStats {
	stats := LevelStats{LevelStats: make([]LevelStat, len(flow))}
	approvedAt := make(map[int]int, len(flow))

	var durationSum time.Duration
	var durationCount int

	for _, sub := range subs {
		if sub == nil || sub.Status == StatusDraft {
			continue
		}
		stats.Total++

		switch sub.Status {
		case StatusApproved:
			stats.Approved++
			if sub.ApprovedAt != nil && sub.SubmittedAt != nil {
				durationSum += sub.ApprovedAt.Sub(*sub.SubmittedAt)
				durationCount++
			}
		case StatusRejected:
			stats.Rejected++
		case StatusPendingApproval:
			stats.Pending++
		}

		seen := make(map[int]bool, len(sub.ApprovalHistory))
		for _, entry := range sub.ApprovalHistory {
			if entry.Status != StatusApproved || seen[entry.Level] {
				continue
			}
			seen[entry.Level] = true
			approvedAt[entry.Level]++
		}
	}

	for i, lvl := range flow {
		stats.LevelStats[i] = LevelStat{
			Level:         lvl.Level,
			ApprovedCount: approvedAt[lvl.Level],
			Total:         stats.Total,
		}
	}

	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Approved) / float64(stats.Total) * 100
	}
	if durationCount > 0 {
		stats.AvgApprovalDuration = durationSum / time.Duration(durationCount)
		stats.AvgApprovalSeconds = stats.AvgApprovalDuration.Seconds()
	}
	return stats
}
