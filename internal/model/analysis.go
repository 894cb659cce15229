package model

import "sort"

// AnalysisSummary holds statistics derived from a dataset's rows.
// It is never persisted; it is recomputed from the stored rows on demand.
type AnalysisSummary struct {
	TotalCount       int                  `json:"total_count"`
	AvgFlowrate      float64              `json:"avg_flowrate"`
	AvgPressure      float64              `json:"avg_pressure"`
	AvgTemperature   float64              `json:"avg_temperature"`
	MinFlowrate      float64              `json:"min_flowrate"`
	MaxFlowrate      float64              `json:"max_flowrate"`
	MinPressure      float64              `json:"min_pressure"`
	MaxPressure      float64              `json:"max_pressure"`
	MinTemperature   float64              `json:"min_temperature"`
	MaxTemperature   float64              `json:"max_temperature"`
	TypeDistribution map[string]int       `json:"equipment_type_distribution"`
	StatisticsByType map[string]TypeStats `json:"statistics_by_type"`
}

// TypeStats holds per equipment type averages
type TypeStats struct {
	Count          int     `json:"count"`
	AvgFlowrate    float64 `json:"avg_flowrate"`
	AvgPressure    float64 `json:"avg_pressure"`
	AvgTemperature float64 `json:"avg_temperature"`
}

// TypeCount is one entry of a ranked type distribution
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// RankTypes orders a distribution by descending count, then type name.
func RankTypes(dist map[string]int) []TypeCount {
	ranked := make([]TypeCount, 0, len(dist))
	for t, n := range dist {
		ranked = append(ranked, TypeCount{Type: t, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Type < ranked[j].Type
	})
	return ranked
}

// RankedTypes returns the type distribution in presentation order.
func (s *AnalysisSummary) RankedTypes() []TypeCount {
	return RankTypes(s.TypeDistribution)
}
