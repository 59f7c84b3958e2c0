package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBPath         string
	RunID          string
	Records        bool
	CalibratedOnly bool
	From           *time.Time
	To             *time.Time
	Verbose        bool
}

// NewConfigFromCLI parses the process command line.
func NewConfigFromCLI() (*Config, error) {
	return ParseConfig(flag.CommandLine, os.Args[1:])
}

// ParseConfig parses args with fs. The usage message is printed when the
// arguments are invalid.
func ParseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	var c Config
	var from, to string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.StringVar(&c.RunID, "run", "", "Run ID, lists all runs when empty")
	fs.BoolVar(&c.Records, "records", false, "Print the merged records of the run")
	fs.BoolVar(&c.CalibratedOnly, "calibrated", false, "Only print calibrated records")
	fs.StringVar(&from, "from", "", "Print records from this time (RFC 3339)")
	fs.StringVar(&to, "to", "", "Print records up to this time (RFC 3339)")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.Records && c.RunID == "":
		err = errors.New("run id is required to print records")
	case (from == "") != (to == ""):
		err = errors.New("both -from and -to are required for a time range")
	}
	if err == nil && from != "" {
		c.From, c.To, err = parseRange(from, to)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}
	return &c, nil
}

func parseRange(from, to string) (*time.Time, *time.Time, error) {
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid -from: %w", err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid -to: %w", err)
	}
	if start.After(end) {
		return nil, nil, fmt.Errorf("-from %s is after -to %s", from, to)
	}
	start, end = start.UTC(), end.UTC()
	return &start, &end, nil
}
