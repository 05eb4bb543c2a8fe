package executor

// ExecutionStats are the canonical counts shown after a plan run,
// adjusted for a post-failure rollback: a rolled-back run applied
// nothing, whatever the per-item reports said.
type ExecutionStats struct {
	TotalCount        int    `json:"total_count"`
	OKCount           int    `json:"ok_count"`
	BlockedCount      int    `json:"blocked_count"`
	FailCount         int    `json:"fail_count"`
	AppliedCount      int    `json:"applied_count"`
	RollbackAttempted bool   `json:"rollback_attempted"`
	RollbackOK        bool   `json:"rollback_ok"`
	RollbackMessage   string `json:"rollback_message"`
}

// Summarize reduces a run report to its canonical stats.
func Summarize(report *Report) ExecutionStats {
	if report == nil {
		return ExecutionStats{}
	}

	total := report.Stats.Total
	okCount := report.Stats.OK
	blocked := report.Stats.Blocked
	if total == 0 && len(report.Items) > 0 {
		for _, item := range report.Items {
			total++
			if item.OK {
				okCount++
			}
			if item.Blocked {
				blocked++
			}
		}
	}

	failCount := total - okCount
	if blocked > failCount {
		failCount = blocked
	}

	stats := ExecutionStats{
		TotalCount:   total,
		OKCount:      okCount,
		BlockedCount: blocked,
		FailCount:    failCount,
		AppliedCount: okCount,
	}
	if rb := report.Rollback; rb != nil {
		stats.RollbackAttempted = rb.Attempted
		stats.RollbackOK = rb.OK
		stats.RollbackMessage = rb.Message
		if rb.OK {
			stats.AppliedCount = 0
		}
	}
	return stats
}

// BlockedItems filters the per-item reports down to the blocked ones.
func BlockedItems(report *Report) []ItemReport {
	if report == nil {
		return nil
	}
	var blocked []ItemReport
	for _, item := range report.Items {
		if item.Blocked {
			blocked = append(blocked, item)
		}
	}
	return blocked
}
