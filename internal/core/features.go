package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strconv"
)

// Cadence features depend only on the observation times, general features
// only on the measured values.
var (
	CadenceFeatures = []string{
		"n_obs",
		"total_time",
		"avg_time_between",
		"med_time_between",
	}

	GeneralFeatures = []string{
		"amplitude",
		"max",
		"mean",
		"median",
		"min",
		"percent_beyond_1_std",
		"skew",
		"std",
		"weighted_average",
	}
)

func ValidFeature(name string) bool {
	return slices.Contains(CadenceFeatures, name) || slices.Contains(GeneralFeatures, name)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func std(xs []float64) float64 {
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func median(xs []float64) float64 {
	sorted := slices.Clone(xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func timeDeltas(ts []float64) []float64 {
	if len(ts) < 2 {
		return []float64{0}
	}
	deltas := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		deltas = append(deltas, ts[i]-ts[i-1])
	}
	return deltas
}

// ComputeFeature evaluates a single named feature on a series.
func ComputeFeature(name string, ts *TimeSeries) (float64, error) {
	switch name {
	case "n_obs":
		return float64(len(ts.Time)), nil
	case "total_time":
		return ts.Time[len(ts.Time)-1] - ts.Time[0], nil
	case "avg_time_between":
		return mean(timeDeltas(ts.Time)), nil
	case "med_time_between":
		return median(timeDeltas(ts.Time)), nil
	case "amplitude":
		return (slices.Max(ts.Value) - slices.Min(ts.Value)) / 2, nil
	case "max":
		return slices.Max(ts.Value), nil
	case "mean":
		return mean(ts.Value), nil
	case "median":
		return median(ts.Value), nil
	case "min":
		return slices.Min(ts.Value), nil
	case "percent_beyond_1_std":
		m, s := mean(ts.Value), std(ts.Value)
		count := 0
		for _, v := range ts.Value {
			if math.Abs(v-m) > s {
				count++
			}
		}
		return float64(count) / float64(len(ts.Value)), nil
	case "skew":
		m, s := mean(ts.Value), std(ts.Value)
		if s == 0 {
			return 0, nil
		}
		sum := 0.0
		for _, v := range ts.Value {
			sum += math.Pow((v-m)/s, 3)
		}
		return sum / float64(len(ts.Value)), nil
	case "weighted_average":
		// Uploads carry no measurement errors, so all weights are equal.
		return mean(ts.Value), nil
	default:
		return 0, fmt.Errorf("unknown feature: %s", name)
	}
}

// FeatureMatrix is the result of featurizing a dataset: one row of feature
// values per series, aligned with Names and Labels.
type FeatureMatrix struct {
	Features []string

	Names  []string
	Labels []string
	Rows   [][]float64
}

// BuildFeatureMatrix computes the named features for every series.
func BuildFeatureMatrix(series []TimeSeries, features []string) (*FeatureMatrix, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("no features selected")
	}
	for _, f := range features {
		if !ValidFeature(f) {
			return nil, fmt.Errorf("unknown feature: %s", f)
		}
	}

	matrix := &FeatureMatrix{Features: features}
	for i := range series {
		row := make([]float64, len(features))
		for j, f := range features {
			value, err := ComputeFeature(f, &series[i])
			if err != nil {
				return nil, err
			}
			row[j] = value
		}
		matrix.Names = append(matrix.Names, series[i].Name)
		matrix.Labels = append(matrix.Labels, series[i].Label)
		matrix.Rows = append(matrix.Rows, row)
	}

	return matrix, nil
}

// WriteCSV serializes the matrix with a ts_name,label,<features...> header
// row, the format featureset artifacts are stored in.
func (m *FeatureMatrix) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := append([]string{"ts_name", "label"}, m.Features...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("error writing featureset header: %w", err)
	}

	for i, row := range m.Rows {
		record := make([]string, 0, len(row)+2)
		record = append(record, m.Names[i], m.Labels[i])
		for _, value := range row {
			record = append(record, strconv.FormatFloat(value, 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing featureset row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadFeatureMatrix parses a stored featureset artifact.
func ReadFeatureMatrix(r io.Reader) (*FeatureMatrix, error) {
	reader := csv.NewReader(r)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading featureset: %w", err)
	}
	if len(records) < 1 || len(records[0]) < 3 {
		return nil, fmt.Errorf("featureset artifact is empty or malformed")
	}

	matrix := &FeatureMatrix{Features: records[0][2:]}
	for _, record := range records[1:] {
		if len(record) != len(records[0]) {
			return nil, fmt.Errorf("featureset artifact row has %d columns, expected %d", len(record), len(records[0]))
		}
		row := make([]float64, len(record)-2)
		for j, field := range record[2:] {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid feature value %q in featureset artifact: %w", field, err)
			}
			row[j] = value
		}
		matrix.Names = append(matrix.Names, record[0])
		matrix.Labels = append(matrix.Labels, record[1])
		matrix.Rows = append(matrix.Rows, row)
	}

	return matrix, nil
}
