package models

type RiskClass string

const (
	RiskClassLow    RiskClass = "low"
	RiskClassMedium RiskClass = "medium"
	RiskClassHigh   RiskClass = "high"
)

// Prediction is the output of the external risk model for one event.
type Prediction struct {
	RiskProbability float64   `json:"risk_probability"`
	Confidence      float64   `json:"confidence"`
	RiskClass       RiskClass `json:"risk_class"`
	Model           string    `json:"model,omitempty"` // which predictor produced it
}

// ClassFor buckets a probability the same way the model's softmax head does.
func ClassFor(probability float64) RiskClass {
	switch {
	case probability >= 0.7:
		return RiskClassHigh
	case probability >= 0.4:
		return RiskClassMedium
	default:
		return RiskClassLow
	}
}
