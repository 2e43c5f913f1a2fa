// Package service wires the Operation DAO and Batch Orchestrator to a live
// connection (spec.md §4.5, §4.8) and owns the per-request transaction
// boundary: a read runs directly against the pooled connection, a single
// mutating operation runs inside its own commit-or-rollback transaction,
// and a batch request's transaction boundary is the orchestrator's own
// (spec.md §4.8 step 3) — Dispatch only hands it a fresh transaction to run in.
package service

import (
	"context"

	"github.com/forbearing/querygate/config"
	"github.com/forbearing/querygate/internal/batch"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dao"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	pkgzap "github.com/forbearing/querygate/logger/zap"
	"github.com/forbearing/querygate/types/gatewayerr"
)

var (
	// Dialect is the active SQL dialect resolved from DB_ENGINE.
	Dialect dialect.Dialect

	// DAO dispatches every non-batch Operation; Orchestrator handles
	// entity=="batch" operations the DAO defers to it.
	DAO          *dao.DAO
	Orchestrator *batch.Orchestrator

	// root is the process-wide pooled connection service.Init opens once;
	// Dispatch only ever begins a transaction from it or (for reads) queries
	// it directly, never closes it.
	root connection.Connection
)

// Init resolves the active dialect, opens the pooled database connection,
// and constructs the DAO/Orchestrator pairing: the orchestrator holds the
// DAO as its sub-operation executor and the DAO defers batch operations
// back to it, avoiding an import cycle via the narrow
// dao.OperationExecutor interface (spec.md §4.5, §9).
func Init() error {
	d, err := dialect.For(dialect.Engine(config.App.Database.Engine))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.InternalError, err, "resolving SQL dialect")
	}
	Dialect = d

	conn, err := connection.Open()
	if err != nil {
		return err
	}
	root = conn

	DAO = dao.New(d)
	Orchestrator = batch.NewOrchestrator(DAO)
	DAO.BatchExecutor = Orchestrator

	pkgzap.Service.Infow("service pipeline initialized", "engine", string(d.Engine()))
	return nil
}

// Dispatch executes op end to end and returns the DAO/orchestrator result
// (spec.md §4.5's `execute(connection, operation) -> rows-or-record`),
// managing the transaction boundary around it.
func Dispatch(ctx context.Context, op *operation.Operation) (any, error) {
	if op.Action == operation.ActionBatch || op.Entity == "batch" {
		tx, err := root.Begin(ctx)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "beginning batch transaction")
		}
		return DAO.Execute(ctx, tx, op)
	}

	if op.Action == operation.ActionRead {
		return DAO.Execute(ctx, root, op)
	}

	tx, err := root.Begin(ctx)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "beginning transaction")
	}
	result, err := DAO.Execute(ctx, tx, op)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			pkgzap.Service.Warnw("rollback after handler error also failed", "error", rbErr)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "committing transaction")
	}
	return result, nil
}
