package hookmeter

import "time"

// Process exit codes reported to the command runner.
const (
	ExitContinue = 0 // proceed
	ExitBlocked  = 1 // a blocking gate failed
	ExitError    = 2 // the hook could not run: bad input, config or storage failure
)

// Record is the public view of one persisted hook event.
// No internal package imports; safe to use from outside the module.
type Record struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Status    string // "success", "failed" or "" when the event has no outcome
	Fields    map[string]int64
	Tags      map[string]string
}

// Event is a decision payload delivered to a Notifier.
type Event struct {
	Type      string         // e.g. "coverage_low", "deploy"
	Fields    map[string]any // flat key/value data
	Timestamp string         // ISO-8601, as recorded
}

// Backup is a document handed to an Uploader.
type Backup struct {
	ID        string
	Priority  string
	Type      string
	Timestamp string
	At        time.Time
	Body      []byte
}

// UploadResult names the objects an Uploader wrote.
type UploadResult struct {
	Bucket      string
	BackupKey   string
	LatestKey   string
	MetadataKey string
}

// Result is what one hook invocation produced.
type Result struct {
	Hook     string
	ExitCode int
	Record   Record
	Band     string
	// ReportPath is set when the invocation emitted a period report.
	ReportPath string
	Lines      []string // human summary for the runner's console
	Warnings   []string // collaborator failures; never affect ExitCode
}

// Category is one row of a period summary.
type Category struct {
	Name  string
	Count int
}

// Summary aggregates one period of a channel.
type Summary struct {
	Channel     string
	Period      string
	Granularity string
	Categories  []Category
	Total       int
	Rated       int // records with a status
	Succeeded   int
	Percent     int64
	Malformed   int
	Text        string // rendered report
}

// Stats are rolling statistics over the most recent records of a channel.
type Stats struct {
	Channel   string
	Field     string
	Size      int
	Values    []int64
	Average   int64
	Trend     string // "increasing", "decreasing" or "stable"
	Delta     int64  // last - first
	Total     int    // records with a status
	Succeeded int
	Percent   int64
	Malformed int
}
