package journal

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclaw/partnerforge/internal/workflow"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL
// expectations.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

type argMatcherFunc func(interface{}) bool

func (f argMatcherFunc) Match(v interface{}) bool { return f(v) }

var anyTime = argMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

func newTestJournal(t *testing.T) (*Journal, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	j, err := New(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return j, mock
}

func TestNewFailsWhenDatabaseUnreachable(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err = New(context.Background(), mock, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping")
}

func TestRunStartedInsertsRow(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO runs (id, brand_name, store_domain, started_at) VALUES ($1, $2, $3, $4);`)).
		WithArgs("run-1", "Acme", "acme.myshopify.com", anyTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j.RunStarted(context.Background(), "run-1", workflow.Request{
		BrandName:   "Acme",
		StoreDomain: "acme.myshopify.com",
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageChangedUpserts(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	started := time.Now().UTC()
	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO run_stages`)).
		WithArgs("run-1", "create_app", "running", started, nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j.StageChanged(context.Background(), "run-1", workflow.StageRecord{
		Name:      "create_app",
		Status:    workflow.StageRunning,
		StartedAt: started,
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageChangedRecordsFailure(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	started := time.Now().UTC()
	ended := started.Add(time.Second)
	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO run_stages`)).
		WithArgs("run-1", "create_app", "failed", started, ended, "boom").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	j.StageChanged(context.Background(), "run-1", workflow.StageRecord{
		Name:      "create_app",
		Status:    workflow.StageFailed,
		StartedAt: started,
		EndedAt:   ended,
		Err:       "boom",
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFinishedSuccess(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	mock.ExpectExec(flexibleSQLMatcher(`UPDATE runs`)).
		WithArgs("run-1", anyTime, true, "Acme x Retention", "https://acme.myshopify.com/admin/x", nil).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	j.RunFinished(context.Background(), "run-1", &workflow.Result{
		AppName:          "Acme x Retention",
		DistributionLink: "https://acme.myshopify.com/admin/x",
	}, nil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFinishedFailure(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	mock.ExpectExec(flexibleSQLMatcher(`UPDATE runs`)).
		WithArgs("run-1", anyTime, false, nil, nil, "stage create_app: unexpected UI state").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	j.RunFinished(context.Background(), "run-1", nil, errors.New("stage create_app: unexpected UI state"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteErrorsAreSwallowed(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	mock.ExpectExec(flexibleSQLMatcher(`INSERT INTO runs`)).
		WithArgs("run-1", "Acme", "acme.myshopify.com", anyTime).
		WillReturnError(errors.New("connection reset"))

	// Must not panic or propagate; the workflow never sees journal errors.
	j.RunStarted(context.Background(), "run-1", workflow.Request{
		BrandName:   "Acme",
		StoreDomain: "acme.myshopify.com",
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesSchema(t *testing.T) {
	j, mock := newTestJournal(t)
	defer mock.Close()

	mock.ExpectExec(flexibleSQLMatcher(`CREATE TABLE IF NOT EXISTS runs`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, j.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
