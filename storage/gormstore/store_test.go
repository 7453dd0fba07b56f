package gormstore_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cardinv_backend/config"
	"bitbucket.org/mmdatafocus/cardinv_backend/inventory"
	"bitbucket.org/mmdatafocus/cardinv_backend/models"
	"bitbucket.org/mmdatafocus/cardinv_backend/storage/gormstore"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Full open/scan/close pass against a real MySQL, exercising the
// advisory lock and the (card_id, cycle_id) unique index.
func TestCycleLifecycleAgainstMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "cardinv_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	store := gormstore.NewStore(db)
	svc := inventory.NewService(store, config.GetLogger())
	op := inventory.Operator{Name: "alice", Site: "1412"}

	cards := []*models.Card{
		{Number: "C1", Titular: "alice", Status: models.CardStatusPending, Site: "1412"},
		{Number: "C2", Titular: "alice", Status: models.CardStatusPending, Site: "1412"},
	}
	if err := db.WithContext(ctx).Create(&cards).Error; err != nil {
		t.Fatalf("seed cards: %v", err)
	}

	cycle, err := svc.OpenCycle(ctx, op)
	if err != nil {
		t.Fatalf("OpenCycle: %v", err)
	}
	if _, err := svc.OpenCycle(ctx, op); err != inventory.ErrCycleActive {
		t.Fatalf("second open: expected ErrCycleActive, got %v", err)
	}

	if _, err := svc.RecordScan(ctx, op, "C1"); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	repeat, err := svc.RecordScan(ctx, op, "C1")
	if err != nil {
		t.Fatalf("repeat RecordScan: %v", err)
	}
	if !repeat.AlreadyRecorded {
		t.Fatal("repeat scan not deduplicated")
	}

	result, err := svc.CloseCycle(ctx, op)
	if err != nil {
		t.Fatalf("CloseCycle: %v", err)
	}
	if result.CycleId != cycle.ID || result.MissingCount != 1 {
		t.Fatalf("unexpected close result: %+v", result)
	}

	var recordCount int64
	if err := db.WithContext(ctx).Model(&models.ScanRecord{}).
		Where("cycle_id = ?", cycle.ID).Count(&recordCount).Error; err != nil {
		t.Fatal(err)
	}
	if recordCount != 2 {
		t.Fatalf("expected 2 history rows (1 OK + 1 NotFound), got %d", recordCount)
	}

	// the cycle is reopenable after close
	if _, err := svc.OpenCycle(ctx, op); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

// The advisory lock must remain held until after COMMIT: GET_LOCK and
// RELEASE_LOCK are non-transactional, so releasing inside the
// transaction would let a second caller read under READ COMMITTED
// before the new Active row is visible. This test records the statement
// order through a stub driver and checks the lock brackets the whole
// transaction. Runs without docker.
func TestCycleLockHeldAcrossCommit(t *testing.T) {
	rec := &stmtRecorder{}
	driverName := fmt.Sprintf("cyclelockrec-%d", time.Now().UnixNano())
	sql.Register(driverName, &recDriver{rec: rec})

	sqlDB, err := sql.Open(driverName, "")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}

	store := gormstore.NewStore(db)
	err = store.RunInTx(context.Background(), func(tx inventory.Tx) error {
		_, err := tx.ActiveCycle(context.Background())
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	stmts := rec.snapshot()
	idx := func(sub string) int {
		for i, s := range stmts {
			if strings.Contains(s, sub) {
				return i
			}
		}
		return -1
	}
	get, begin := idx("GET_LOCK"), idx("BEGIN")
	commit, release := idx("COMMIT"), idx("RELEASE_LOCK")
	if get == -1 || begin == -1 || commit == -1 || release == -1 {
		t.Fatalf("missing statements, got %q", stmts)
	}
	if get > begin {
		t.Fatalf("lock acquired after BEGIN: %q", stmts)
	}
	if release < commit {
		t.Fatalf("lock released before COMMIT: %q", stmts)
	}
}

// Minimal database/sql driver that records every statement in order and
// returns canned results: advisory-lock selects yield 1, everything
// else yields zero rows.
type stmtRecorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *stmtRecorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, s)
}

func (r *stmtRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.stmts))
	copy(out, r.stmts)
	return out
}

type recDriver struct{ rec *stmtRecorder }

func (d *recDriver) Open(string) (driver.Conn, error) {
	return &recConn{rec: d.rec}, nil
}

type recConn struct{ rec *stmtRecorder }

func (c *recConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported by stub driver")
}

func (c *recConn) Close() error { return nil }

func (c *recConn) Begin() (driver.Tx, error) {
	c.rec.add("BEGIN")
	return &recTx{rec: c.rec}, nil
}

func (c *recConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return c.Begin()
}

func (c *recConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.rec.add(query)
	if strings.Contains(query, "GET_LOCK") || strings.Contains(query, "RELEASE_LOCK") {
		return &recRows{cols: []string{"r"}, vals: [][]driver.Value{{int64(1)}}}, nil
	}
	return &recRows{cols: []string{"id", "status", "started_at", "ended_at", "created_at", "updated_at"}}, nil
}

func (c *recConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.rec.add(query)
	return driver.RowsAffected(1), nil
}

type recTx struct{ rec *stmtRecorder }

func (t *recTx) Commit() error {
	t.rec.add("COMMIT")
	return nil
}

func (t *recTx) Rollback() error {
	t.rec.add("ROLLBACK")
	return nil
}

type recRows struct {
	cols []string
	vals [][]driver.Value
	i    int
}

func (r *recRows) Columns() []string { return r.cols }
func (r *recRows) Close() error      { return nil }

func (r *recRows) Next(dest []driver.Value) error {
	if r.i >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.i])
	r.i++
	return nil
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("cardinv-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=cardinv_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
