package analysis

import (
	"errors"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

// ErrNoRows is returned when aggregating an empty row set.
var ErrNoRows = errors.New("no equipment rows to aggregate")

type accumulator struct {
	count       int
	sumFlow     float64
	sumPressure float64
	sumTemp     float64
}

func (a *accumulator) add(r model.EquipmentRow) {
	a.count++
	a.sumFlow += r.Flowrate
	a.sumPressure += r.Pressure
	a.sumTemp += r.Temperature
}

func (a *accumulator) mean(sum float64) float64 {
	return sum / float64(a.count)
}

// Aggregate computes the summary statistics of a row set.
func Aggregate(rows []model.EquipmentRow) (*model.AnalysisSummary, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	first := rows[0]
	s := &model.AnalysisSummary{
		TotalCount:       len(rows),
		MinFlowrate:      first.Flowrate,
		MaxFlowrate:      first.Flowrate,
		MinPressure:      first.Pressure,
		MaxPressure:      first.Pressure,
		MinTemperature:   first.Temperature,
		MaxTemperature:   first.Temperature,
		TypeDistribution: make(map[string]int),
		StatisticsByType: make(map[string]model.TypeStats),
	}

	var all accumulator
	byType := make(map[string]*accumulator)
	for _, r := range rows {
		all.add(r)

		s.MinFlowrate = min(s.MinFlowrate, r.Flowrate)
		s.MaxFlowrate = max(s.MaxFlowrate, r.Flowrate)
		s.MinPressure = min(s.MinPressure, r.Pressure)
		s.MaxPressure = max(s.MaxPressure, r.Pressure)
		s.MinTemperature = min(s.MinTemperature, r.Temperature)
		s.MaxTemperature = max(s.MaxTemperature, r.Temperature)

		acc, ok := byType[r.Type]
		if !ok {
			acc = &accumulator{}
			byType[r.Type] = acc
		}
		acc.add(r)
	}

	s.AvgFlowrate = all.mean(all.sumFlow)
	s.AvgPressure = all.mean(all.sumPressure)
	s.AvgTemperature = all.mean(all.sumTemp)

	for t, acc := range byType {
		s.TypeDistribution[t] = acc.count
		s.StatisticsByType[t] = model.TypeStats{
			Count:          acc.count,
			AvgFlowrate:    acc.mean(acc.sumFlow),
			AvgPressure:    acc.mean(acc.sumPressure),
			AvgTemperature: acc.mean(acc.sumTemp),
		}
	}
	return s, nil
}

// Analyze parses and aggregates in one step.
func Analyze(data []byte) ([]model.EquipmentRow, *model.AnalysisSummary, error) {
	rows, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	summary, err := Aggregate(rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, summary, nil
}
