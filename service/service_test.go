package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dao"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/types/claims"
)

// spyConnection records Begin/Commit/Rollback calls so tests can assert on
// Dispatch's transaction-boundary decisions without a real database.
type spyConnection struct {
	begun      bool
	committed  bool
	rolledBack bool
	child      *spyConnection

	execErr error
}

func (s *spyConnection) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	return nil, nil
}

func (s *spyConnection) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	return 0, s.execErr
}

func (s *spyConnection) Begin(ctx context.Context) (connection.Connection, error) {
	s.begun = true
	s.child = &spyConnection{}
	return s.child, nil
}

func (s *spyConnection) Commit() error {
	s.committed = true
	return nil
}

func (s *spyConnection) Rollback() error {
	s.rolledBack = true
	return nil
}

func (s *spyConnection) Close() error { return nil }

// stubBatchExecutor satisfies dao.OperationExecutor without touching
// internal/batch, keeping this test scoped to service.Dispatch's own
// transaction-boundary logic (spec.md §4.5/§4.8).
type stubBatchExecutor struct {
	called bool
	conn   connection.Connection
}

func (s *stubBatchExecutor) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation) (any, error) {
	s.called = true
	s.conn = conn
	return map[string]any{"success": true}, nil
}

func newTestDAO(t *testing.T) *dao.DAO {
	t.Helper()
	d, err := dialect.For(dialect.SQLite)
	require.NoError(t, err)
	return dao.New(d)
}

func TestDispatch_BatchBeginsOwnTransaction(t *testing.T) {
	spy := &spyConnection{}
	root = spy
	DAO = newTestDAO(t)
	stub := &stubBatchExecutor{}
	DAO.BatchExecutor = stub

	op := &operation.Operation{Entity: "batch", Action: operation.ActionCreate, Claims: &claims.Claims{}}
	result, err := Dispatch(context.Background(), op)

	require.NoError(t, err)
	assert.True(t, spy.begun, "batch dispatch should begin its own transaction")
	assert.True(t, stub.called, "batch dispatch should defer to the orchestrator")
	assert.Same(t, spy.child, stub.conn, "orchestrator should receive the transaction-scoped connection")
	assert.Equal(t, map[string]any{"success": true}, result)
}

func TestDispatch_ReadRunsWithoutTransaction(t *testing.T) {
	spy := &spyConnection{}
	root = spy
	DAO = newTestDAO(t)

	op := &operation.Operation{Entity: "nonexistent", Action: operation.ActionRead, Claims: &claims.Claims{}}
	_, err := Dispatch(context.Background(), op)

	// entity isn't registered in any loaded spec document, so the DAO
	// returns NotFound; what matters here is that no transaction was opened.
	require.Error(t, err)
	assert.False(t, spy.begun, "read dispatch must not open a transaction")
}

func TestDispatch_MutationRollsBackOnHandlerError(t *testing.T) {
	spy := &spyConnection{}
	root = spy
	DAO = newTestDAO(t)

	op := &operation.Operation{Entity: "nonexistent", Action: operation.ActionCreate, Claims: &claims.Claims{}}
	_, err := Dispatch(context.Background(), op)

	require.Error(t, err)
	assert.True(t, spy.begun, "mutation dispatch must open a transaction")
	assert.True(t, spy.child.rolledBack, "failed mutation must roll back its transaction")
	assert.False(t, spy.child.committed, "failed mutation must not commit")
}

// TestDispatch_BatchDoesNotOwnCommit confirms the orchestrator, not Dispatch,
// is responsible for committing a batch's transaction (spec.md §4.8 step 3).
func TestDispatch_BatchDoesNotOwnCommit(t *testing.T) {
	spy := &spyConnection{}
	root = spy
	DAO = newTestDAO(t)
	stub := &stubBatchExecutor{}
	DAO.BatchExecutor = stub
	op := &operation.Operation{Entity: "batch", Action: operation.ActionCreate, Claims: &claims.Claims{}}

	_, err := Dispatch(context.Background(), op)
	require.NoError(t, err)
	assert.False(t, spy.child.committed, "Dispatch must leave batch commit/rollback to the orchestrator")
	assert.False(t, spy.child.rolledBack)
}
