package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/operation"
)

// fakeConn records Commit/Rollback without touching a real database.
type fakeConn struct {
	committed  bool
	rolledBack bool
}

func (f *fakeConn) Query(context.Context, string, ...any) ([]map[string]any, error) { return nil, nil }
func (f *fakeConn) Exec(context.Context, string, ...any) (int64, error)              { return 0, nil }
func (f *fakeConn) Begin(context.Context) (connection.Connection, error)             { return f, nil }
func (f *fakeConn) Commit() error                                                    { f.committed = true; return nil }
func (f *fakeConn) Rollback() error                                                  { f.rolledBack = true; return nil }
func (f *fakeConn) Close() error                                                     { return nil }

// scriptedExecutor returns a fixed result or error per entity name, letting
// tests drive multi-step batches without a real DAO/schema.
type scriptedExecutor struct {
	results map[string]any
	errs    map[string]error
	calls   []string
}

func (s *scriptedExecutor) Execute(ctx context.Context, conn connection.Connection, op *operation.Operation) (any, error) {
	s.calls = append(s.calls, op.Entity)
	if err, ok := s.errs[op.Entity]; ok {
		return nil, err
	}
	if data, ok := s.results[op.Entity]; ok {
		return data, nil
	}
	return []map[string]any{{"id": "1"}}, nil
}

func TestOrchestrator_AllSucceedCommits(t *testing.T) {
	exec := &scriptedExecutor{}
	orch := NewOrchestrator(exec)
	conn := &fakeConn{}

	req := &operation.BatchRequest{
		Operations: []operation.OperationSpec{
			{ID: "a", Entity: "album", Action: operation.ActionCreate},
			{ID: "b", Entity: "track", Action: operation.ActionCreate, DependsOn: []string{"a"}},
		},
		Options: operation.DefaultBatchOptions(),
	}

	result, err := orch.Run(context.Background(), conn, req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, conn.committed)
	assert.False(t, conn.rolledBack)
	assert.Equal(t, operation.StatusCompleted, result.Results["a"].Status)
	assert.Equal(t, operation.StatusCompleted, result.Results["b"].Status)
	assert.Equal(t, []string{"album", "track"}, exec.calls)
}

func TestOrchestrator_AtomicAbortsAndRollsBackOnFirstFailure(t *testing.T) {
	exec := &scriptedExecutor{errs: map[string]error{"track": assertErr{}}}
	orch := NewOrchestrator(exec)
	conn := &fakeConn{}

	req := &operation.BatchRequest{
		Operations: []operation.OperationSpec{
			{ID: "a", Entity: "album", Action: operation.ActionCreate},
			{ID: "b", Entity: "track", Action: operation.ActionCreate},
			{ID: "c", Entity: "invoice", Action: operation.ActionCreate, DependsOn: []string{"b"}},
		},
		Options: operation.BatchOptions{Atomic: true, ContinueOnError: false},
	}

	result, err := orch.Run(context.Background(), conn, req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, conn.rolledBack)
	assert.False(t, conn.committed)
	assert.Equal(t, operation.StatusCompleted, result.Results["a"].Status)
	assert.Equal(t, operation.StatusFailed, result.Results["b"].Status)
	// "c" must never have run: its dependency "b" failed, and the abort
	// happened before the planner reached it anyway.
	_, cRan := result.Results["c"]
	assert.False(t, cRan)
	assert.NotContains(t, exec.calls, "invoice")
}

func TestOrchestrator_ContinueOnErrorSkipsDependents(t *testing.T) {
	exec := &scriptedExecutor{errs: map[string]error{"track": assertErr{}}}
	orch := NewOrchestrator(exec)
	conn := &fakeConn{}

	req := &operation.BatchRequest{
		Operations: []operation.OperationSpec{
			{ID: "a", Entity: "album", Action: operation.ActionCreate},
			{ID: "b", Entity: "track", Action: operation.ActionCreate},
			{ID: "c", Entity: "invoice", Action: operation.ActionCreate, DependsOn: []string{"b"}},
		},
		Options: operation.BatchOptions{Atomic: true, ContinueOnError: true},
	}

	result, err := orch.Run(context.Background(), conn, req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, conn.rolledBack, "atomic batch still rolls back even with continue_on_error once any step failed")
	assert.Equal(t, operation.StatusFailed, result.Results["b"].Status)
	assert.Equal(t, operation.StatusSkipped, result.Results["c"].Status)
	assert.Contains(t, result.FailedOperations, "b")
}

func TestOrchestrator_NonAtomicCommitsDespiteFailure(t *testing.T) {
	exec := &scriptedExecutor{errs: map[string]error{"track": assertErr{}}}
	orch := NewOrchestrator(exec)
	conn := &fakeConn{}

	req := &operation.BatchRequest{
		Operations: []operation.OperationSpec{
			{ID: "a", Entity: "album", Action: operation.ActionCreate},
			{ID: "b", Entity: "track", Action: operation.ActionCreate},
		},
		Options: operation.BatchOptions{Atomic: false, ContinueOnError: true},
	}

	result, err := orch.Run(context.Background(), conn, req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, conn.committed, "non-atomic batches always commit, successes and all")
	assert.False(t, conn.rolledBack)
}

func TestOrchestrator_RejectsOversizedBatch(t *testing.T) {
	exec := &scriptedExecutor{}
	orch := NewOrchestrator(exec)
	conn := &fakeConn{}

	specs := make([]operation.OperationSpec, 101)
	for i := range specs {
		specs[i] = operation.OperationSpec{Entity: "album", Action: operation.ActionCreate}
	}
	req := &operation.BatchRequest{Operations: specs, Options: operation.DefaultBatchOptions()}

	_, err := orch.Run(context.Background(), conn, req)
	require.Error(t, err)
}

func TestOrchestrator_RejectsEmptyBatch(t *testing.T) {
	orch := NewOrchestrator(&scriptedExecutor{})
	_, err := orch.Run(context.Background(), &fakeConn{}, &operation.BatchRequest{Options: operation.DefaultBatchOptions()})
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated handler failure" }
