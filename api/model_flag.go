package api

// Flag is a single evaluated flag returned by the evaluation API.
type Flag struct {
	Key      string                 `json:"key"`
	Value    interface{}            `json:"value"`
	Reason   string                 `json:"reason,omitempty"`
	Variant  string                 `json:"variant,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Type returns the flag value type recorded in the evaluation metadata, if any.
func (f Flag) Type() string {
	if f.Metadata == nil {
		return ""
	}
	if t, ok := f.Metadata["flagType"].(string); ok {
		return t
	}
	return ""
}

// BulkEvaluationResponse is the body of a bulk flag evaluation.
type BulkEvaluationResponse struct {
	Flags []Flag `json:"flags"`
}

// EvaluationContext carries targeting attributes for flag evaluation requests.
// The "targetingKey" attribute identifies the subject being evaluated.
type EvaluationContext map[string]interface{}

// ErrorResponse is the error body returned by the evaluation API.
type ErrorResponse struct {
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}
