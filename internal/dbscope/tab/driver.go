package tab

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

// DriverDetail extracts driver specific error codes from err's chain. It
// returns "" for errors that did not come from a known driver.
func DriverDetail(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Sprintf("SQLSTATE %s (%s)", pqErr.Code, pqErr.Code.Name())
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Sprintf("SQLSTATE %s (%s)", pgErr.Code, pgErr.Severity)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.SQLState != [5]byte{} {
			return fmt.Sprintf("Error %d (SQLSTATE %s)", myErr.Number, string(myErr.SQLState[:]))
		}
		return fmt.Sprintf("Error %d", myErr.Number)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return fmt.Sprintf("SQLite code %d", liteErr.Code())
	}
	return ""
}
