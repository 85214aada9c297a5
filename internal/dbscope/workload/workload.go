// Package workload loads YAML statement scripts and replays them against a
// real database through the capture layer.
package workload

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every load or validation failure.
var ErrInvalid = errors.New("invalid workload")

var validate = validator.New()

// Statement is one entry of a workload script.
type Statement struct {
	SQL string `yaml:"sql" validate:"required"`
	// Args are bound in order. String arguments containing {...} are
	// expanded with gofakeit, e.g. "{email}".
	Args []any `yaml:"args"`
	// Repeat runs the statement this many times; zero means once.
	Repeat int  `yaml:"repeat" validate:"gte=0"`
	Async  bool `yaml:"async"`
	// Transaction groups consecutive statements with the same value into one
	// transaction that ends with a commit or a rollback. Async is ignored
	// inside a transaction.
	Transaction string `yaml:"transaction" validate:"omitempty,oneof=commit rollback"`
}

func (s Statement) times() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// Workload describes a script and the database to run it against. Either DSN
// or Database must be set; the remaining connection fields fill in a DSN
// when none is given.
type Workload struct {
	Name     string `yaml:"name" validate:"required"`
	Driver   string `yaml:"driver" validate:"required,oneof=mysql postgres pgx sqlite"`
	DSN      string `yaml:"dsn" validate:"required_without=Database"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	Seed int64 `yaml:"seed" validate:"gte=0"`
	// Connections is the number of concurrent connections replaying the
	// statements; zero means one.
	Connections int `yaml:"connections" validate:"gte=0,lte=64"`
	// Setup statements run once before capture starts and are not recorded.
	Setup      []string    `yaml:"setup"`
	Statements []Statement `yaml:"statements" validate:"required,min=1,dive"`
}

// Load reads and validates a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML workload.
func Parse(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate.Struct(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &w, nil
}

func (w *Workload) connections() int {
	if w.Connections <= 0 {
		return 1
	}
	return w.Connections
}

// DataSource returns the DSN handed to sql.Open. Environment variables in
// DSN and Password are expanded.
func (w *Workload) DataSource() string {
	if w.DSN != "" {
		return os.ExpandEnv(w.DSN)
	}

	host := w.Host
	if host == "" {
		host = "127.0.0.1"
	}
	pass := os.ExpandEnv(w.Password)

	switch w.Driver {
	case "postgres", "pgx":
		port := w.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(w.User, pass),
			Host:     net.JoinHostPort(host, strconv.Itoa(port)),
			Path:     "/" + w.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	case "mysql":
		port := w.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = w.User
		mc.Passwd = pass
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
		mc.DBName = w.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	}
	return w.Database
}
