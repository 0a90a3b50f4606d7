package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// PredictionResult holds per-series predictions for a dataset. For
// classifiers Predicted holds class names; for regressors it holds the
// formatted predicted values. Probabilities is populated only for models
// with per-class probabilities, one column per entry of Classes.
type PredictionResult struct {
	Names  []string
	Labels []string

	Predicted     []string
	Classes       []string
	Probabilities [][]float64
}

// RunPrediction featurizes the series with the model's feature list and
// runs the model on every row.
func RunPrediction(model *TrainedModel, series []TimeSeries) (*PredictionResult, error) {
	matrix, err := BuildFeatureMatrix(series, model.Features)
	if err != nil {
		return nil, err
	}

	result := &PredictionResult{
		Names:  matrix.Names,
		Labels: matrix.Labels,
	}
	if model.HasProba() {
		result.Classes = model.Classes
	}

	for _, row := range matrix.Rows {
		label, value, probs, err := model.PredictRow(row)
		if err != nil {
			return nil, err
		}

		if model.Kind() == KindClassifier {
			result.Predicted = append(result.Predicted, label)
		} else {
			result.Predicted = append(result.Predicted, strconv.FormatFloat(value, 'g', -1, 64))
		}
		if probs != nil {
			result.Probabilities = append(result.Probabilities, probs)
		}
	}

	return result, nil
}

// WriteCSV serializes the result in the download format: a ts_name,label
// prefix followed by either one probability column per class or a single
// prediction column.
func (r *PredictionResult) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := []string{"ts_name", "label"}
	if len(r.Classes) > 0 {
		header = append(header, r.Classes...)
	} else {
		header = append(header, "prediction")
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("error writing prediction header: %w", err)
	}

	for i := range r.Names {
		record := []string{r.Names[i], r.Labels[i]}
		if len(r.Classes) > 0 {
			for _, p := range r.Probabilities[i] {
				record = append(record, strconv.FormatFloat(p, 'g', -1, 64))
			}
		} else {
			record = append(record, r.Predicted[i])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing prediction row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadPredictionResult parses a stored prediction artifact.
func ReadPredictionResult(r io.Reader) (*PredictionResult, error) {
	reader := csv.NewReader(r)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading prediction artifact: %w", err)
	}
	if len(records) < 1 || len(records[0]) < 3 {
		return nil, fmt.Errorf("prediction artifact is empty or malformed")
	}

	result := &PredictionResult{}
	probaFormat := records[0][2] != "prediction"
	if probaFormat {
		result.Classes = records[0][2:]
	}

	for _, record := range records[1:] {
		result.Names = append(result.Names, record[0])
		result.Labels = append(result.Labels, record[1])
		if probaFormat {
			probs := make([]float64, len(record)-2)
			best := 0
			for j, field := range record[2:] {
				p, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid probability %q in prediction artifact: %w", field, err)
				}
				probs[j] = p
				if p > probs[best] {
					best = j
				}
			}
			result.Probabilities = append(result.Probabilities, probs)
			result.Predicted = append(result.Predicted, result.Classes[best])
		} else {
			result.Predicted = append(result.Predicted, record[2])
		}
	}

	return result, nil
}
