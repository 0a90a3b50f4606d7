package core

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	ModelNearestCentroid  = "nearest_centroid"
	ModelKNNClassifier    = "knn_classifier"
	ModelLinearRegression = "linear_regression"

	KindClassifier = "classifier"
	KindRegressor  = "regressor"
)

type ModelInfo struct {
	Kind   string
	Params []string
}

var modelRegistry = map[string]ModelInfo{
	ModelNearestCentroid:  {Kind: KindClassifier, Params: []string{}},
	ModelKNNClassifier:    {Kind: KindClassifier, Params: []string{"n_neighbors"}},
	ModelLinearRegression: {Kind: KindRegressor, Params: []string{"fit_intercept"}},
}

func GetModelInfo(modelType string) (ModelInfo, error) {
	info, ok := modelRegistry[modelType]
	if !ok {
		return ModelInfo{}, fmt.Errorf("unknown model type: %s", modelType)
	}
	return info, nil
}

func ModelTypes() []string {
	types := make([]string, 0, len(modelRegistry))
	for t := range modelRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ConvertParams evaluates the literal string hyperparameters submitted for a
// model and checks them against the parameters the model type accepts.
func ConvertParams(modelType string, raw map[string]string) (map[string]any, error) {
	info, err := GetModelInfo(modelType)
	if err != nil {
		return nil, err
	}

	params := make(map[string]any, len(raw))
	for name, value := range raw {
		allowed := false
		for _, p := range info.Params {
			if p == name {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("model type %s does not accept parameter %s", modelType, name)
		}
		params[name] = ParseLiteral(value)
	}

	return params, nil
}

func intParam(params map[string]any, name string, fallback int) (int, error) {
	value, ok := params[name]
	if !ok || value == nil {
		return fallback, nil
	}
	switch v := value.(type) {
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("parameter %s must be an integer, got %v", name, value)
}

func boolParam(params map[string]any, name string, fallback bool) (bool, error) {
	value, ok := params[name]
	if !ok || value == nil {
		return fallback, nil
	}
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("parameter %s must be a boolean, got %v", name, value)
}

// TrainedModel is the serializable state of a fitted model. Which fields are
// populated depends on Type.
type TrainedModel struct {
	Type     string
	Features []string

	// Classifiers.
	Classes   []string
	Centroids [][]float64 // nearest_centroid, aligned with Classes

	// knn_classifier keeps its training set.
	NNeighbors  int
	TrainRows   [][]float64
	TrainLabels []string

	// linear_regression.
	Coefficients []float64
	Intercept    float64
}

func (m *TrainedModel) Kind() string {
	info, err := GetModelInfo(m.Type)
	if err != nil {
		return ""
	}
	return info.Kind
}

// HasProba reports whether the model produces per-class probabilities.
func (m *TrainedModel) HasProba() bool {
	return m.Type == ModelKNNClassifier
}

func (m *TrainedModel) Save(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("error serializing model: %w", err)
	}
	return nil
}

func LoadModel(r io.Reader) (*TrainedModel, error) {
	var m TrainedModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("error loading model: %w", err)
	}
	if _, err := GetModelInfo(m.Type); err != nil {
		return nil, err
	}
	return &m, nil
}

// TrainModel fits a model of the given type on a feature matrix and returns
// the fitted model along with its training score, accuracy for classifiers
// and the coefficient of determination for regressors.
func TrainModel(modelType string, params map[string]any, matrix *FeatureMatrix) (*TrainedModel, float64, error) {
	if len(matrix.Rows) == 0 {
		return nil, 0, fmt.Errorf("cannot train on an empty featureset")
	}

	var model *TrainedModel
	var err error
	switch modelType {
	case ModelNearestCentroid:
		model, err = trainNearestCentroid(matrix)
	case ModelKNNClassifier:
		model, err = trainKNN(params, matrix)
	case ModelLinearRegression:
		model, err = trainLinearRegression(params, matrix)
	default:
		return nil, 0, fmt.Errorf("unknown model type: %s", modelType)
	}
	if err != nil {
		return nil, 0, err
	}
	model.Features = matrix.Features

	score, err := trainScore(model, matrix)
	if err != nil {
		return nil, 0, err
	}

	return model, score, nil
}

func classLabels(matrix *FeatureMatrix) ([]string, error) {
	set := make(map[string]bool)
	for _, label := range matrix.Labels {
		if label == "" {
			return nil, fmt.Errorf("cannot train a classifier on an unlabeled dataset")
		}
		set[label] = true
	}
	classes := make([]string, 0, len(set))
	for c := range set {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes, nil
}

func trainNearestCentroid(matrix *FeatureMatrix) (*TrainedModel, error) {
	classes, err := classLabels(matrix)
	if err != nil {
		return nil, err
	}

	dim := len(matrix.Features)
	centroids := make([][]float64, len(classes))
	counts := make([]int, len(classes))
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		centroids[i] = make([]float64, dim)
		index[c] = i
	}

	for i, row := range matrix.Rows {
		c := index[matrix.Labels[i]]
		counts[c]++
		for j, v := range row {
			centroids[c][j] += v
		}
	}
	for i := range centroids {
		for j := range centroids[i] {
			centroids[i][j] /= float64(counts[i])
		}
	}

	return &TrainedModel{
		Type:      ModelNearestCentroid,
		Classes:   classes,
		Centroids: centroids,
	}, nil
}

func trainKNN(params map[string]any, matrix *FeatureMatrix) (*TrainedModel, error) {
	classes, err := classLabels(matrix)
	if err != nil {
		return nil, err
	}

	k, err := intParam(params, "n_neighbors", 5)
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("n_neighbors must be at least 1, got %d", k)
	}
	if k > len(matrix.Rows) {
		return nil, fmt.Errorf("n_neighbors is %d but the featureset has only %d samples", k, len(matrix.Rows))
	}

	return &TrainedModel{
		Type:        ModelKNNClassifier,
		Classes:     classes,
		NNeighbors:  k,
		TrainRows:   matrix.Rows,
		TrainLabels: matrix.Labels,
	}, nil
}

// trainLinearRegression fits ordinary least squares via the normal
// equations, solved with Gaussian elimination.
func trainLinearRegression(params map[string]any, matrix *FeatureMatrix) (*TrainedModel, error) {
	fitIntercept, err := boolParam(params, "fit_intercept", true)
	if err != nil {
		return nil, err
	}

	targets := make([]float64, len(matrix.Labels))
	for i, label := range matrix.Labels {
		t, err := parseTarget(label)
		if err != nil {
			return nil, err
		}
		targets[i] = t
	}

	dim := len(matrix.Features)
	cols := dim
	if fitIntercept {
		cols++
	}

	design := func(row []float64, j int) float64 {
		if j < dim {
			return row[j]
		}
		return 1 // intercept column
	}

	// X^T X and X^T y
	xtx := make([][]float64, cols)
	xty := make([]float64, cols)
	for i := range xtx {
		xtx[i] = make([]float64, cols)
	}
	for r, row := range matrix.Rows {
		for i := 0; i < cols; i++ {
			xi := design(row, i)
			xty[i] += xi * targets[r]
			for j := 0; j < cols; j++ {
				xtx[i][j] += xi * design(row, j)
			}
		}
	}

	solution, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return nil, fmt.Errorf("could not fit linear regression: %w", err)
	}

	model := &TrainedModel{
		Type:         ModelLinearRegression,
		Coefficients: solution[:dim],
	}
	if fitIntercept {
		model.Intercept = solution[dim]
	}
	return model, nil
}

func parseTarget(label string) (float64, error) {
	var t float64
	if _, err := fmt.Sscanf(label, "%g", &t); err != nil {
		return 0, fmt.Errorf("regression requires numeric labels, got %q", label)
	}
	return t, nil
}

func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular feature matrix")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for j := col; j < n; j++ {
				a[row][j] -= factor * a[col][j]
			}
			b[row] -= factor * b[col]
		}
	}

	solution := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for j := row + 1; j < n; j++ {
			sum -= a[row][j] * solution[j]
		}
		solution[row] = sum / a[row][row]
	}
	return solution, nil
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// PredictRow runs the model on a single feature row. For classifiers label
// holds the predicted class; for regressors value holds the prediction.
// probs is non-nil only when HasProba is true, aligned with Classes.
func (m *TrainedModel) PredictRow(row []float64) (label string, value float64, probs []float64, err error) {
	if len(row) != m.inputDim() {
		return "", 0, nil, fmt.Errorf("feature row has %d values, model expects %d", len(row), m.inputDim())
	}

	switch m.Type {
	case ModelNearestCentroid:
		best := 0
		bestDist := math.Inf(1)
		for i, centroid := range m.Centroids {
			if d := euclidean(row, centroid); d < bestDist {
				best, bestDist = i, d
			}
		}
		return m.Classes[best], 0, nil, nil

	case ModelKNNClassifier:
		type neighbor struct {
			dist  float64
			label string
		}
		neighbors := make([]neighbor, len(m.TrainRows))
		for i, train := range m.TrainRows {
			neighbors[i] = neighbor{dist: euclidean(row, train), label: m.TrainLabels[i]}
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].dist < neighbors[j].dist })

		counts := make(map[string]int)
		for _, n := range neighbors[:m.NNeighbors] {
			counts[n.label]++
		}

		probs = make([]float64, len(m.Classes))
		best := ""
		for i, c := range m.Classes {
			probs[i] = float64(counts[c]) / float64(m.NNeighbors)
			if best == "" || counts[c] > counts[best] {
				best = c
			}
		}
		return best, 0, probs, nil

	case ModelLinearRegression:
		value = m.Intercept
		for i, coef := range m.Coefficients {
			value += coef * row[i]
		}
		return "", value, nil, nil

	default:
		return "", 0, nil, fmt.Errorf("unknown model type: %s", m.Type)
	}
}

func (m *TrainedModel) inputDim() int {
	if m.Type == ModelLinearRegression {
		return len(m.Coefficients)
	}
	return len(m.Features)
}

func trainScore(m *TrainedModel, matrix *FeatureMatrix) (float64, error) {
	if m.Kind() == KindClassifier {
		correct := 0
		for i, row := range matrix.Rows {
			label, _, _, err := m.PredictRow(row)
			if err != nil {
				return 0, err
			}
			if label == matrix.Labels[i] {
				correct++
			}
		}
		return float64(correct) / float64(len(matrix.Rows)), nil
	}

	// R^2 for regressors.
	targets := make([]float64, len(matrix.Labels))
	for i, label := range matrix.Labels {
		t, err := parseTarget(label)
		if err != nil {
			return 0, err
		}
		targets[i] = t
	}
	targetMean := mean(targets)

	ssRes, ssTot := 0.0, 0.0
	for i, row := range matrix.Rows {
		_, value, _, err := m.PredictRow(row)
		if err != nil {
			return 0, err
		}
		ssRes += (targets[i] - value) * (targets[i] - value)
		ssTot += (targets[i] - targetMean) * (targets[i] - targetMean)
	}
	if ssTot == 0 {
		return 1, nil
	}
	return 1 - ssRes/ssTot, nil
}
