package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyComponent   = "component"
	KeyRepo        = "repository"
	KeyOwner       = "owner"
	KeyName        = "name"
	KeyProject     = "project"
	KeySource      = "source"
	KeyEventType   = "event_type"
	KeyExternalID  = "external_id"
	KeyRawEventID  = "raw_event_id"
	KeyEventFactID = "event_fact_id"
	KeyScope       = "scope"
	KeyWindowStart = "window_start"
	KeyWindowEnd   = "window_end"
	KeyReportID    = "report_id"
	KeyReviewID    = "review_id"
	KeyModel       = "model"
	KeyAttempt     = "attempt"
	KeyCount       = "count"
	KeyJobName     = "job_name"
	KeyJobStatus   = "job_status"
	KeyWorker      = "worker"
	KeyDurationMS  = "duration_ms"
	KeyMethod      = "method"
	KeyPath        = "path"
	KeyStatus      = "status"
	KeyResponseSz  = "response_size"
	KeyRemoteAddr  = "remote_addr"
	KeyUserAgent   = "user_agent"
	KeyURL         = "url"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Component(c string) slog.Attr     { return slog.String(KeyComponent, c) }
func Repository(r string) slog.Attr    { return slog.String(KeyRepo, r) }
func Owner(o string) slog.Attr         { return slog.String(KeyOwner, o) }
func Name(n string) slog.Attr          { return slog.String(KeyName, n) }
func Project(p string) slog.Attr       { return slog.String(KeyProject, p) }
func Source(s string) slog.Attr        { return slog.String(KeySource, s) }
func EventType(t string) slog.Attr     { return slog.String(KeyEventType, t) }
func ExternalID(id string) slog.Attr   { return slog.String(KeyExternalID, id) }
func RawEventID(id string) slog.Attr   { return slog.String(KeyRawEventID, id) }
func EventFactID(id string) slog.Attr  { return slog.String(KeyEventFactID, id) }
func Scope(s string) slog.Attr         { return slog.String(KeyScope, s) }
func WindowStart(s string) slog.Attr   { return slog.String(KeyWindowStart, s) }
func WindowEnd(e string) slog.Attr     { return slog.String(KeyWindowEnd, e) }
func ReportID(id string) slog.Attr     { return slog.String(KeyReportID, id) }
func ReviewID(id string) slog.Attr     { return slog.String(KeyReviewID, id) }
func Model(m string) slog.Attr         { return slog.String(KeyModel, m) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func JobName(n string) slog.Attr       { return slog.String(KeyJobName, n) }
func JobStatus(s string) slog.Attr     { return slog.String(KeyJobStatus, s) }
func Worker(w string) slog.Attr        { return slog.String(KeyWorker, w) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func ResponseSize(n int) slog.Attr     { return slog.Int(KeyResponseSz, n) }
func RemoteAddr(a string) slog.Attr    { return slog.String(KeyRemoteAddr, a) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
