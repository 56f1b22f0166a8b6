package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jknair0/beforeeach"
)

var (
	sqlDB *sql.DB
	mock  sqlmock.Sqlmock
	store *MySQLStore
)

func setUp() {
	sqlDB, mock, _ = sqlmock.New()
	store = NewMySQLStore(sqlDB)
}

func tearDown() {
	sqlDB.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestMySQLGet(t *testing.T) {
	it(func() {
		testCases := []struct {
			name string
			id   string
			body string

			expectStatus string
			expectErr    error
		}{
			{
				name:         "Existing document",
				id:           "a1",
				body:         `{"status":"PENDING","source_id":"cam-1"}`,
				expectStatus: "PENDING",
			},
			{
				name:      "Missing document",
				id:        "a2",
				expectErr: ErrNotFound,
			},
		}

		for _, testCase := range testCases {
			setUp()
			q := mock.ExpectQuery("SELECT body FROM documents WHERE collection = (.+) AND id = (.+)").
				WithArgs("alerts", testCase.id)
			if testCase.body != "" {
				q.WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow([]byte(testCase.body)))
			} else {
				q.WillReturnError(sql.ErrNoRows)
			}

			doc, err := store.Get(context.Background(), "alerts", testCase.id)
			if !errors.Is(err, testCase.expectErr) {
				t.Errorf("%s: expected error %v, got %v", testCase.name, testCase.expectErr, err)
			}
			if testCase.expectErr == nil {
				if doc["status"] != testCase.expectStatus || doc.ID() != testCase.id {
					t.Errorf("%s: unexpected doc %v", testCase.name, doc)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s: %v", testCase.name, err)
			}
		}
	})
}

func TestMySQLCreate(t *testing.T) {
	it(func() {
		testCases := []struct {
			name      string
			execErr   error
			expectErr error
		}{
			{name: "Created"},
			{
				name:      "Duplicate key",
				execErr:   &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'source_guards-cam-1' for key 'PRIMARY'"},
				expectErr: ErrAlreadyExists,
			},
		}

		for _, testCase := range testCases {
			setUp()
			e := mock.ExpectExec("INSERT INTO documents \\(collection, id, body\\) VALUES \\(\\?, \\?, \\?\\)$").
				WithArgs("source_guards", "cam-1", sqlmock.AnyArg())
			if testCase.execErr != nil {
				e.WillReturnError(testCase.execErr)
			} else {
				e.WillReturnResult(sqlmock.NewResult(1, 1))
			}

			err := store.Create(context.Background(), "source_guards", "cam-1", Doc{"alert_id": "a1"})
			if !errors.Is(err, testCase.expectErr) {
				t.Errorf("%s: expected error %v, got %v", testCase.name, testCase.expectErr, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s: %v", testCase.name, err)
			}
		}
	})
}

func TestMySQLSet(t *testing.T) {
	it(func() {
		testCases := []struct {
			name   string
			merge  bool
			update string
			args   int
		}{
			{name: "Merge", merge: true, update: "body = JSON_MERGE_PATCH\\(body, \\?\\)", args: 4},
			{name: "Overwrite", merge: false, update: "body = VALUES\\(body\\)", args: 3},
		}

		for _, testCase := range testCases {
			setUp()
			args := []driver.Value{"alerts", "a1", sqlmock.AnyArg()}
			if testCase.args == 4 {
				args = append(args, []byte(`{"error":null,"status":"CONFIRMED"}`))
			}
			mock.ExpectExec("INSERT INTO documents \\(collection, id, body\\) VALUES \\(\\?, \\?, \\?\\) ON DUPLICATE KEY UPDATE " + testCase.update).
				WithArgs(args...).
				WillReturnResult(sqlmock.NewResult(0, 2))

			err := store.Set(context.Background(), "alerts", "a1", Doc{"status": "CONFIRMED", "error": nil}, testCase.merge)
			if err != nil {
				t.Errorf("%s: unexpected error %v", testCase.name, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s: %v", testCase.name, err)
			}
		}
	})
}

func TestMySQLQuery(t *testing.T) {
	it(func() {
		mock.ExpectQuery(
			"SELECT id, body FROM documents WHERE collection = \\? "+
				"AND JSON_UNQUOTE\\(JSON_EXTRACT\\(body, \\?\\)\\) IN \\(\\?, \\?\\) "+
				"AND JSON_EXTRACT\\(body, \\?\\) <= \\? ORDER BY created_at, id").
			WithArgs("alerts", "$.status", "NOTIFIED_COOLDOWN", "CONFIRMED", "$.cooldown_expires_at", int64(5000)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "body"}).
				AddRow("a1", []byte(`{"status":"NOTIFIED_COOLDOWN","cooldown_expires_at":4000}`)).
				AddRow("a2", []byte(`{"status":"NOTIFIED_COOLDOWN","cooldown_expires_at":9000}`)).
				AddRow("a3", []byte(`not json`)))

		docs, err := store.Query(context.Background(), "alerts",
			In("status", "NOTIFIED_COOLDOWN", "CONFIRMED"),
			Lte("cooldown_expires_at", int64(5000)))
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		// a2 fails the in-process re-check, a3 cannot be decoded.
		if len(docs) != 1 || docs[0].ID() != "a1" {
			t.Errorf("expected only a1, got %v", docs)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestMySQLQueryRejectsLargeIn(t *testing.T) {
	it(func() {
		values := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}
		_, err := store.Query(context.Background(), "alerts", InStrings("site_id", values))
		if !errors.Is(err, ErrTooManyInValues) {
			t.Errorf("expected ErrTooManyInValues, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestMySQLDelete(t *testing.T) {
	it(func() {
		mock.ExpectExec("DELETE FROM documents WHERE collection = (.+) AND id = (.+)").
			WithArgs("alerts", "a1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		removed, err := store.Delete(context.Background(), "alerts", "a1")
		if err != nil {
			t.Errorf("deleting a missing document must not fail: %v", err)
		}
		if removed {
			t.Errorf("nothing was deleted")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestMySQLUpdate(t *testing.T) {
	it(func() {
		testCases := []struct {
			name string
			body string

			expectWrite bool
			expectErr   error
		}{
			{
				name:        "Condition holds",
				body:        `{"status":"SENDING","source_id":"cam-1"}`,
				expectWrite: true,
			},
			{
				name:      "Condition fails",
				body:      `{"status":"CONFIRMED","source_id":"cam-1"}`,
				expectErr: ErrConflict,
			},
			{
				name:      "Missing document",
				expectErr: ErrNotFound,
			},
		}

		for _, testCase := range testCases {
			setUp()
			mock.ExpectBegin()
			q := mock.ExpectQuery("SELECT body FROM documents WHERE collection = (.+) AND id = (.+) FOR UPDATE").
				WithArgs("alerts", "a1")
			if testCase.body != "" {
				q.WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow([]byte(testCase.body)))
			} else {
				q.WillReturnError(sql.ErrNoRows)
			}
			if testCase.expectWrite {
				mock.ExpectExec("UPDATE documents SET body = (.+) WHERE collection = (.+) AND id = (.+)").
					WithArgs([]byte(`{"id":"a1","source_id":"cam-1","status":"CONFIRMED"}`), "alerts", "a1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			err := store.Update(context.Background(), "alerts", "a1",
				Doc{"status": "CONFIRMED", "error": nil}, Eq("status", "SENDING"))
			if !errors.Is(err, testCase.expectErr) {
				t.Errorf("%s: expected error %v, got %v", testCase.name, testCase.expectErr, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("%s: %v", testCase.name, err)
			}
		}
	})
}
