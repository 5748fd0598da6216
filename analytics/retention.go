package analytics

import "revsend/api/models"

// RetentionByCohort returns the share of active users in each observed cohort.
func RetentionByCohort(ds models.Dataset) models.RetentionRate {
	active := make(map[string]int)
	total := make(map[string]int)
	for _, r := range ds {
		total[r.Cohort]++
		active[r.Cohort] += r.IsActive
	}
	out := make(models.RetentionRate, len(total))
	for cohort, n := range total {
		out[cohort] = float64(active[cohort]) / float64(n)
	}
	return out
}
