package operation

import "github.com/forbearing/querygate/types/claims"

// OperationSpec is one entry in a BatchRequest's operations list (spec.md §3).
type OperationSpec struct {
	ID             string            `json:"id"`
	Entity         string            `json:"entity"`
	Action         Action            `json:"action"`
	StoreParams    map[string]any    `json:"store_params"`
	QueryParams    map[string]string `json:"query_params"`
	MetadataParams map[string]string `json:"metadata_params"`
	DependsOn      []string          `json:"depends_on"`
	Claims         *claims.Claims    `json:"-"`

	// CustomSQLName/CustomBindings mirror Operation's own fields, for a
	// batch step whose action is "custom" (spec.md §3's Operation "optional
	// custom SQL text and bindings" applies per-step inside a batch too).
	CustomSQLName  string         `json:"custom_sql_name"`
	CustomBindings map[string]any `json:"custom_bindings"`
}

// BatchOptions controls transaction and error-continuation behavior (spec.md §3).
type BatchOptions struct {
	Atomic          bool `json:"atomic"`
	ContinueOnError bool `json:"continueOnError"`
}

// DefaultBatchOptions matches spec.md §3: "atomic default true;
// continue_on_error default false".
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Atomic: true, ContinueOnError: false}
}

// BatchRequest is the decoded body of POST /batch (spec.md §3, §6).
type BatchRequest struct {
	Operations []OperationSpec
	Options    BatchOptions
}

// ResultStatus is one of the three terminal per-operation states (spec.md §3).
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
	StatusSkipped   ResultStatus = "skipped"
)

// Result is one operation's outcome record within a BatchResult.
type Result struct {
	Status     ResultStatus   `json:"status"`
	Data       []map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	StatusCode int            `json:"statusCode,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// BatchResult is the aggregate outcome returned from POST /batch (spec.md §3).
type BatchResult struct {
	Success          bool               `json:"success"`
	Results          map[string]*Result `json:"results"`
	FailedOperations []string           `json:"failedOperations"`
}
