package batch

import (
	"context"
	"encoding/json"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dao"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/types/consts"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// Orchestrator executes a BatchRequest against a shared connection (spec.md
// §4.8). It implements dao.OperationExecutor itself so the DAO can dispatch
// op.Entity == "batch" operations to it — the narrow-interface indirection
// the teacher's source used a lazy import for (DESIGN NOTES: "resolve by
// introducing a narrow OperationExecutor interface... no cycle, no dynamic
// loading").
type Orchestrator struct {
	// Executor runs each individual (non-batch) operation. In production
	// this is the same *dao.DAO that holds this Orchestrator as its
	// BatchExecutor; kept as an interface so tests can substitute a stub.
	Executor dao.OperationExecutor
}

// NewOrchestrator constructs an Orchestrator delegating sub-operations to executor.
func NewOrchestrator(executor dao.OperationExecutor) *Orchestrator {
	return &Orchestrator{Executor: executor}
}

// Execute implements dao.OperationExecutor. op.StoreParams carries the
// decoded BatchRequest body verbatim (spec.md §6 "wrap the decoded body as
// store_params of an operation (entity=batch, action=create)").
func (o *Orchestrator) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation) (any, error) {
	req, err := decodeBatchRequest(op)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, conn, req)
}

// decodeBatchRequest round-trips op.StoreParams (the generic map the
// adapter decoded the POST /batch body into) through encoding/json to
// populate the typed BatchRequest, defaulting Options.Atomic to true per
// spec.md §3 when the caller omits it, and stamping every step with the
// batch caller's own claims (a batch request carries one caller, not one
// per step).
func decodeBatchRequest(op *operation.Operation) (*operation.BatchRequest, error) {
	raw, err := json.Marshal(op.StoreParams)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.BadRequest, err, "encoding batch request body")
	}

	var wire struct {
		Operations []operation.OperationSpec `json:"operations"`
		Options    *struct {
			Atomic          *bool `json:"atomic"`
			ContinueOnError *bool `json:"continue_on_error"`
			// continueOnError is the key operation.BatchOptions declares.
			ContinueOnErrorCamel *bool `json:"continueOnError"`
		} `json:"options"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.BadRequest, err, "decoding batch request body")
	}

	for i := range wire.Operations {
		wire.Operations[i].Claims = op.Claims
	}

	req := &operation.BatchRequest{
		Operations: wire.Operations,
		Options:    operation.DefaultBatchOptions(),
	}
	if wire.Options != nil {
		if wire.Options.Atomic != nil {
			req.Options.Atomic = *wire.Options.Atomic
		}
		if wire.Options.ContinueOnError != nil {
			req.Options.ContinueOnError = *wire.Options.ContinueOnError
		}
		if wire.Options.ContinueOnErrorCamel != nil {
			req.Options.ContinueOnError = *wire.Options.ContinueOnErrorCamel
		}
	}
	return req, nil
}

// Run executes req's operations in topological order on conn and returns
// the aggregate result (spec.md §4.8).
func (o *Orchestrator) Run(ctx context.Context, conn connection.Connection, req *operation.BatchRequest) (*operation.BatchResult, error) {
	if len(req.Operations) > consts.MaxBatchSize {
		return nil, gatewayerr.Newf(gatewayerr.BadRequest, "batch of %d operations exceeds the maximum of %d", len(req.Operations), consts.MaxBatchSize)
	}
	if len(req.Operations) == 0 {
		return nil, gatewayerr.New(gatewayerr.BadRequest, "batch must contain at least one operation")
	}

	plan, err := Plan(req.Operations)
	if err != nil {
		return nil, err
	}

	results := cmap.New[*operation.Result]()
	completedData := make(map[string][]map[string]any)
	var failedOps []string
	aborted := false

	for _, node := range plan {
		if aborted {
			break
		}

		if depFailed, reason := anyDependencyFailed(node.deps, results); depFailed {
			results.Set(node.id, &operation.Result{Status: operation.StatusSkipped, Reason: reason})
			continue
		}

		resolvedOp, err := ResolveReferences(specToOperation(node.spec), completedData)
		if err != nil {
			results.Set(node.id, &operation.Result{Status: operation.StatusFailed, Error: err.Error(), StatusCode: gatewayerr.KindOf(err).Status()})
			failedOps = append(failedOps, node.id)
			if req.Options.Atomic && !req.Options.ContinueOnError {
				aborted = true
			}
			continue
		}

		data, err := o.Executor.Execute(ctx, conn, resolvedOp)
		if err != nil {
			results.Set(node.id, &operation.Result{Status: operation.StatusFailed, Error: err.Error(), StatusCode: gatewayerr.KindOf(err).Status()})
			failedOps = append(failedOps, node.id)
			if req.Options.Atomic && !req.Options.ContinueOnError {
				aborted = true
			}
			continue
		}

		rows := normalizeRows(data)
		completedData[node.id] = rows
		results.Set(node.id, &operation.Result{Status: operation.StatusCompleted, Data: rows})
	}

	success := len(failedOps) == 0

	if req.Options.Atomic {
		if success {
			if err := conn.Commit(); err != nil {
				return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "committing batch transaction")
			}
		} else {
			if err := conn.Rollback(); err != nil {
				return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "rolling back batch transaction")
			}
			// completed entries keep status=completed for traceability even
			// though their effects were just reversed (spec.md §4.8 step 3).
		}
	} else {
		if err := conn.Commit(); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "committing batch transaction")
		}
	}

	return &operation.BatchResult{
		Success:          success,
		Results:          results.Items(),
		FailedOperations: failedOps,
	}, nil
}

func anyDependencyFailed(deps []string, results cmap.ConcurrentMap[string, *operation.Result]) (bool, string) {
	for _, d := range deps {
		r, ok := results.Get(d)
		if !ok || r.Status != operation.StatusCompleted {
			return true, "dependency failed"
		}
	}
	return false, ""
}

func specToOperation(s operation.OperationSpec) *operation.Operation {
	return &operation.Operation{
		Entity:         s.Entity,
		Action:         s.Action,
		QueryParams:    s.QueryParams,
		StoreParams:    s.StoreParams,
		MetadataParams: s.MetadataParams,
		Claims:         s.Claims,
		CustomSQLName:  s.CustomSQLName,
		CustomBindings: s.CustomBindings,
	}
}

// normalizeRows coerces a DAO result (either []map[string]any for
// read/create/update/custom, or map[string]any for delete) into the row
// slice shape the Reference Resolver walks.
func normalizeRows(data any) []map[string]any {
	switch v := data.(type) {
	case []map[string]any:
		return v
	case map[string]any:
		return []map[string]any{v}
	default:
		return nil
	}
}
