package hookmeter

import "context"

// Notifier delivers gate decisions to an external system. alert is false for
// successful outcomes (for example a deploy that went through).
// Notifiers provided via WithAlertNotifier or WithDeployNotifier run alongside
// the webhook and Slack notifiers built from configuration.
// Failures are reported as warnings and never change the exit code.
type Notifier interface {
	Notify(ctx context.Context, alert bool, event Event) error
}

// Uploader archives spec documents. When provided via WithUploader, replaces
// the S3 uploader built from S3_BACKUP_BUCKET.
type Uploader interface {
	Upload(ctx context.Context, b Backup) (UploadResult, error)
}

// BadgeFetcher renders a status badge as SVG.
type BadgeFetcher interface {
	Fetch(ctx context.Context, label string, percent int64, color string) ([]byte, error)
}

// Replica receives every record after it is durably appended to its channel.
// When provided via WithReplica, replaces the Postgres mirror built from
// HOOKMETER_DATABASE_URL.
type Replica interface {
	Mirror(ctx context.Context, channel string, rec Record) error
}
