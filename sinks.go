package reqpipe

import "time"

// Severity ranks a user notice.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a user-visible message. Persistent notices stay until dismissed.
type Notice struct {
	Severity   Severity
	Title      string
	Body       string
	Persistent bool
}

// Notifier displays notices. Notify must not block.
type Notifier interface {
	Notify(n Notice)
}

// Navigator exposes the host application's navigation.
type Navigator interface {
	CurrentPath() string
	Redirect(path string)
}

// Report is the structured record sent for server failures.
type Report struct {
	Kind      string    `json:"kind"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Client    string    `json:"client"`
	Timestamp time.Time `json:"timestamp"`
}

// Reporter forwards reports to an external error sink.
type Reporter interface {
	Report(r Report)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Report)

func (f ReporterFunc) Report(r Report) { f(r) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

type nopNavigator struct{}

func (nopNavigator) CurrentPath() string { return "" }
func (nopNavigator) Redirect(string)     {}

type nopReporter struct{}

func (nopReporter) Report(Report) {}
