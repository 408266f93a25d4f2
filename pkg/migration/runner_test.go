package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// memSchema is an Executor that treats each body as a list of object names
// to create. Creating an object twice fails like Postgres does; a body
// starting with "BAD" fails with a syntax error.
type memSchema struct {
	objects map[string]bool
	calls   []string
}

func newMemSchema() *memSchema {
	return &memSchema{objects: make(map[string]bool)}
}

func (m *memSchema) Apply(ctx context.Context, def Definition) error {
	m.calls = append(m.calls, def.Name)
	if strings.HasPrefix(def.Body, "BAD") {
		return &StatementError{Name: def.Name, SQLState: "42601", Err: &pgconn.PgError{Code: "42601", Message: "syntax error"}}
	}

	// All-or-nothing, like a transaction.
	names := strings.Fields(def.Body)
	for _, n := range names {
		if m.objects[n] {
			return &StatementError{Name: def.Name, SQLState: pgDuplicateTable, Err: &pgconn.PgError{
				Code:    pgDuplicateTable,
				Message: fmt.Sprintf("relation %q already exists", n),
			}}
		}
	}
	for _, n := range names {
		m.objects[n] = true
	}
	return nil
}

func catalogOf(bodies ...string) *Catalog {
	entries := make([]Entry, len(bodies))
	for i, body := range bodies {
		entries[i] = Entry{Name: fmt.Sprintf("%03d_m.sql", i+1), Body: body}
	}
	return BuildCatalog(entries, nil)
}

func statuses(r *Report) []Status {
	out := make([]Status, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Status
	}
	return out
}

func TestRunner_AppliesInOrder(t *testing.T) {
	schema := newMemSchema()
	cat := BuildCatalog([]Entry{
		{Name: "003_c.sql", Body: "c"},
		{Name: "001_a.sql", Body: "a"},
		{Name: "002_b.sql", Body: "b"},
	}, nil)

	report := NewRunner(schema, WithLogger(zaptest.NewLogger(t))).Run(context.Background(), cat)

	assert.Equal(t, []string{"001_a.sql", "002_b.sql", "003_c.sql"}, schema.calls)
	assert.Equal(t, []Status{StatusApplied, StatusApplied, StatusApplied}, statuses(report))
	assert.True(t, report.Started)
	assert.False(t, report.Halted)
	assert.False(t, report.Failed())
}

func TestRunner_RerunIsIdempotent(t *testing.T) {
	schema := newMemSchema()
	cat := catalogOf("users", "orders", "users_email_idx")
	runner := NewRunner(schema)

	first := runner.Run(context.Background(), cat)
	require.False(t, first.Failed())

	second := runner.Run(context.Background(), cat)
	assert.Equal(t, []Status{StatusSkippedAlreadyApplied, StatusSkippedAlreadyApplied, StatusSkippedAlreadyApplied}, statuses(second))
	assert.False(t, second.Halted)
	assert.False(t, second.Failed())
	for _, o := range second.Outcomes {
		assert.NoError(t, o.Err)
	}
}

func TestRunner_DuplicateCreateScenario(t *testing.T) {
	// 1 and 2 both create t. The first run applies 1, and 2 is recognised
	// as already applied; a second run skips both.
	schema := newMemSchema()
	cat := catalogOf("t", "t")
	runner := NewRunner(schema)

	first := runner.Run(context.Background(), cat)
	assert.Equal(t, []Status{StatusApplied, StatusSkippedAlreadyApplied}, statuses(first))
	assert.False(t, first.Failed())

	second := runner.Run(context.Background(), cat)
	assert.Equal(t, []Status{StatusSkippedAlreadyApplied, StatusSkippedAlreadyApplied}, statuses(second))
	assert.False(t, second.Halted)
}

func TestRunner_HaltsOnFailure(t *testing.T) {
	for k := 1; k <= 4; k++ {
		t.Run(fmt.Sprintf("fail at %d", k), func(t *testing.T) {
			bodies := []string{"a", "b", "c", "d"}
			bodies[k-1] = "BAD sql"
			schema := newMemSchema()

			report := NewRunner(schema).Run(context.Background(), catalogOf(bodies...))

			require.Len(t, report.Outcomes, k)
			for i := 0; i < k-1; i++ {
				assert.Equal(t, StatusApplied, report.Outcomes[i].Status)
			}
			failed := report.Outcomes[k-1]
			assert.Equal(t, StatusFailed, failed.Status)
			require.Error(t, failed.Err)
			assert.Equal(t, "42601", SQLState(failed.Err))
			assert.True(t, report.Halted)
			assert.True(t, report.Failed())
			assert.Len(t, schema.calls, k, "no definition after the failure is attempted")

			applied, skipped, nFailed, notAttempted := report.Counts()
			assert.Equal(t, k-1, applied)
			assert.Equal(t, 0, skipped)
			assert.Equal(t, 1, nFailed)
			assert.Equal(t, 4-k, notAttempted)
		})
	}
}

func TestRunner_InvalidSQLScenario(t *testing.T) {
	schema := newMemSchema()
	report := NewRunner(schema).Run(context.Background(), catalogOf("t1", "BAD", "t3"))

	assert.Equal(t, []Status{StatusApplied, StatusFailed}, statuses(report))
	assert.True(t, report.Halted)
	assert.Equal(t, &report.Outcomes[1], report.FirstFailure())
	assert.NotContains(t, schema.calls, "003_m.sql")
}

func TestRunner_RerunAfterHaltReplaysFromStart(t *testing.T) {
	schema := newMemSchema()
	bodies := []string{"a", "BAD", "c"}
	runner := NewRunner(schema)

	first := runner.Run(context.Background(), catalogOf(bodies...))
	require.True(t, first.Halted)

	bodies[1] = "b"
	second := runner.Run(context.Background(), catalogOf(bodies...))
	assert.Equal(t, []Status{StatusSkippedAlreadyApplied, StatusApplied, StatusApplied}, statuses(second))
	assert.False(t, second.Halted)
}

func TestRunner_ContinueOnError(t *testing.T) {
	schema := newMemSchema()
	report := NewRunner(schema, WithContinueOnError()).Run(context.Background(), catalogOf("a", "BAD", "c"))

	assert.Equal(t, []Status{StatusApplied, StatusFailed, StatusApplied}, statuses(report))
	assert.False(t, report.Halted)
	assert.True(t, report.Failed())
}

func TestRunner_EmptyCatalogNeverStarts(t *testing.T) {
	schema := newMemSchema()
	report := NewRunner(schema).Run(context.Background(), BuildCatalog(nil, nil))

	assert.False(t, report.Started)
	assert.False(t, report.Halted)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, schema.calls)
	assert.Equal(t, "No migrations attempted.", report.Summary())
}

func TestRunner_CancelledContextHalts(t *testing.T) {
	schema := newMemSchema()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewRunner(schema).Run(ctx, catalogOf("a", "b"))

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusFailed, report.Outcomes[0].Status)
	assert.ErrorIs(t, report.Outcomes[0].Err, context.Canceled)
	assert.True(t, report.Halted)
	assert.Empty(t, schema.calls)
}

func TestRunner_ClassifierCannotTurnFailureIntoSuccess(t *testing.T) {
	schema := newMemSchema()
	lenient := ClassifierFunc(func(error) Status { return StatusApplied })

	report := NewRunner(schema, WithClassifier(lenient)).Run(context.Background(), catalogOf("BAD"))
	assert.Equal(t, []Status{StatusFailed}, statuses(report))
}

func TestRunner_CustomClassifier(t *testing.T) {
	schema := newMemSchema()
	skipAll := ClassifierFunc(func(error) Status { return StatusSkippedAlreadyApplied })

	report := NewRunner(schema, WithClassifier(skipAll)).Run(context.Background(), catalogOf("BAD", "a"))
	assert.Equal(t, []Status{StatusSkippedAlreadyApplied, StatusApplied}, statuses(report))
}

func TestRunner_LogsOneLinePerOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	schema := newMemSchema()
	cat := BuildCatalog([]Entry{
		{Name: "001_a.sql", Body: "a"},
		{Name: "002_a_again.sql", Body: "a"},
		{Name: "002_dup.sql", Body: "BAD"},
	}, nil)

	NewRunner(schema, WithLogger(zap.New(core))).Run(context.Background(), cat)

	outcomeLines := logs.FilterFieldKey("status").All()
	require.Len(t, outcomeLines, 3)
	assert.Equal(t, "applied", outcomeLines[0].ContextMap()["status"])
	assert.Equal(t, "skipped", outcomeLines[1].ContextMap()["status"])
	assert.Equal(t, "failed", outcomeLines[2].ContextMap()["status"])
	assert.Equal(t, "42601", outcomeLines[2].ContextMap()["sqlstate"])

	assert.Equal(t, 1, logs.FilterMessage("Duplicate migration sequence number").Len())
}

func TestRunner_ExecutorErrorWithoutCode(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, def Definition) error {
		return errors.New("driver: bad connection")
	})
	report := NewRunner(exec).Run(context.Background(), catalogOf("a"))
	assert.Equal(t, []Status{StatusFailed}, statuses(report))
	assert.EqualError(t, report.Outcomes[0].Err, "driver: bad connection")
}

type executorFunc func(ctx context.Context, def Definition) error

func (f executorFunc) Apply(ctx context.Context, def Definition) error {
	return f(ctx, def)
}
