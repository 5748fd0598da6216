package analytics

import (
	"fmt"
	"sort"
	"strings"

	"revsend/api/models"
)

// TopFeatureCount is how many features the recommendation names.
const TopFeatureCount = 3

// RankFeatures orders features by descending score and keeps the first n.
// Equal scores keep schema order.
func RankFeatures(fi models.FeatureImportance, n int) []models.RankedFeature {
	ranked := make([]models.RankedFeature, len(fi))
	for i, fs := range fi {
		ranked[i] = models.RankedFeature{Feature: fs.Feature, Score: fs.Score}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Score > ranked[b].Score })
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Recommend renders the conversion suggestion for the ranked features.
// With fewer than three features the sentence names only those available;
// with none it is empty.
func Recommend(ranked []models.RankedFeature) string {
	if len(ranked) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Based on these insights, we believe that the best way to increase conversions is to focus on improving '%s'.", Humanize(ranked[0].Feature))
	switch {
	case len(ranked) == 2:
		fmt.Fprintf(&b, " Additionally, optimizing '%s' could also significantly impact user conversion rates.", Humanize(ranked[1].Feature))
	case len(ranked) >= 3:
		fmt.Fprintf(&b, " Additionally, optimizing '%s' and '%s' could also significantly impact user conversion rates.",
			Humanize(ranked[1].Feature), Humanize(ranked[2].Feature))
	}
	return b.String()
}

var separators = strings.NewReplacer("_", " ", "-", " ")

// Humanize turns an internal feature name into display text.
func Humanize(feature string) string {
	return separators.Replace(feature)
}
