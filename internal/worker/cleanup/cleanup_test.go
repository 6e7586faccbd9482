package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// mockExecutor はExecutorのモック実装。
// PostgreSQLを使わず、SQLクエリの内容と引数を検証する。
type mockExecutor struct {
	mu         sync.Mutex
	execCalled bool
	calls      int
	query      string
	args       []interface{}
	result     sql.Result
	err        error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCalled = true
	m.calls++
	m.query = query
	m.args = args
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.result, m.err
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockRecorder はPurgeRecorderのモック実装。
type mockRecorder struct {
	counts []int
}

func (m *mockRecorder) RecordSessionsPurged(count int) {
	m.counts = append(m.counts, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func findLogField(t *testing.T, buf *bytes.Buffer, key string) (interface{}, bool) {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestNewSessionCleanupJob_Defaults(t *testing.T) {
	job := NewSessionCleanupJob(&mockExecutor{}, nil, nil)

	if job == nil {
		t.Fatal("NewSessionCleanupJob は nil を返してはならない")
	}
	if job.GraceHours != 24 {
		t.Errorf("GraceHours = %d, want 24", job.GraceHours)
	}
}

func TestSessionCleanupJob_Run_ExecutesDeleteQuery(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !mock.execCalled {
		t.Fatal("ExecContext が呼び出されなかった")
	}
	if !strings.Contains(mock.query, "DELETE FROM sessions") {
		t.Errorf("クエリに 'DELETE FROM sessions' が含まれていない: %s", mock.query)
	}
	if !strings.Contains(mock.query, "expires_at") {
		t.Errorf("クエリに 'expires_at' 条件が含まれていない: %s", mock.query)
	}
}

func TestSessionCleanupJob_Run_UsesGraceInterval(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf), nil)
	job.GraceHours = 6

	_ = job.Run(context.Background())

	if len(mock.args) < 1 {
		t.Fatal("ExecContext に引数が渡されなかった")
	}
	argStr, ok := mock.args[0].(string)
	if !ok {
		t.Fatalf("第1引数が string ではない: %T", mock.args[0])
	}
	if argStr != "6 hours" {
		t.Errorf("interval引数 = %q, want %q", argStr, "6 hours")
	}
}

func TestSessionCleanupJob_Run_LogsAndRecordsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	recorder := &mockRecorder{}
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 42}}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf), recorder)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	count, ok := findLogField(t, &buf, "deleted_count")
	if !ok || count != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if hours, ok := findLogField(t, &buf, "grace_hours"); !ok || hours != float64(24) {
		t.Errorf("ログに grace_hours=24 が記録されていない。ログ出力: %s", buf.String())
	}
	if len(recorder.counts) != 1 || recorder.counts[0] != 42 {
		t.Errorf("recorded = %v, want [42]", recorder.counts)
	}
}

func TestSessionCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	recorder := &mockRecorder{}
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf), recorder)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
	if len(recorder.counts) != 0 {
		t.Errorf("失敗時は削除件数を記録しない: %v", recorder.counts)
	}
}

func TestSessionCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("1回目の Run() がエラーを返した: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
}

func TestSessionCleanupJob_Start_RunsImmediatelyAndOnTick(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 1}}
	job := NewSessionCleanupJob(mock, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, 20*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
	if mock.callCount() < 2 {
		t.Errorf("calls = %d, want >= 2", mock.callCount())
	}
}
