package contracts

// Event types published on the cross-module channel
const (
	EventBatchQualityCompleted = "BatchQualityCompleted"
	EventBatchQualityFailed    = "BatchQualityFailed"
)

// BatchQualityCompleted announces a scored batch
type BatchQualityCompleted struct {
	BatchID          string                `json:"batch_id"`
	BankID           string                `json:"bank_id"`
	OverallScore     float64               `json:"overall_score"`
	Grade            Grade                 `json:"grade"`
	Compliant        bool                  `json:"compliant"`
	DimensionScores  map[Dimension]float64 `json:"dimension_scores"`
	DetailsReference string                `json:"details_reference"`
	CorrelationID    string                `json:"-"`
}

// BatchQualityFailed announces a batch that could not be scored
type BatchQualityFailed struct {
	BatchID       string `json:"batch_id"`
	BankID        string `json:"bank_id"`
	ErrorMessage  string `json:"error_message"`
	CorrelationID string `json:"-"`
}
