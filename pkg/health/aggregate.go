package health

// AggregatePillar combines the scored metrics of one pillar into a weighted
// average. Metrics missing a score this cycle are excluded and the remaining
// weights renormalized; a missing metric is never imputed as zero. The second
// return is false when no metric of the pillar scored.
//
// Summation runs in ascending metric id order so the result is bit-for-bit
// reproducible across runs.
func AggregatePillar(c Catalog, pillarID string, metricScores map[string]float64) (float64, bool) {
	var weightedSum, totalWeight float64
	for _, m := range c.PillarMetrics(pillarID) {
		score, ok := metricScores[m.ID]
		if !ok {
			continue
		}
		weightedSum += score * m.Weight
		totalWeight += m.Weight
	}
	if totalWeight == 0 {
		return 0, false
	}
	return weightedSum / totalWeight, true
}

// AggregateOverall combines pillar scores into the overall score. Absent
// pillars are excluded with their weight renormalized over the present ones;
// the overall score never includes a phantom zero contribution. The second
// return is false when every pillar is absent.
func AggregateOverall(c Catalog, pillarScores map[string]float64) (float64, bool) {
	var weightedSum, totalWeight float64
	for _, p := range c.SortedPillars() {
		score, ok := pillarScores[p.ID]
		if !ok {
			continue
		}
		weightedSum += score * p.Weight
		totalWeight += p.Weight
	}
	if totalWeight == 0 {
		return 0, false
	}
	return weightedSum / totalWeight, true
}
