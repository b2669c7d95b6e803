package healthcheck

import (
	"encoding/json"
	"fmt"
	"time"
)

// jsonDuration marshals a time.Duration as a human-readable string ("100ms",
// "2s") instead of an integer count of nanoseconds.
type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = jsonDuration(parsed)
	return nil
}

// wireCheckSpec is the JSON wire shape of a CheckSpec: a flattened
// discriminated union keyed by "checker_type".
type wireCheckSpec struct {
	ID          CheckId      `json:"id"`
	CheckerType CheckKind    `json:"checker_type"`
	Address     string       `json:"address"`
	Port        uint16       `json:"port"`
	Interval    jsonDuration `json:"interval"`
	Timeout     jsonDuration `json:"timeout"`
	Retries     int          `json:"retries"`

	Method        string `json:"method,omitempty"`
	Scheme        string `json:"scheme,omitempty"`
	Path          string `json:"path,omitempty"`
	ExpectedCodes []int  `json:"expected_codes,omitempty"`

	Query       string   `json:"query,omitempty"`
	ExpectedIPs []string `json:"expected_ips,omitempty"`
}

func toWire(s CheckSpec) wireCheckSpec {
	return wireCheckSpec{
		ID:            s.ID,
		CheckerType:   s.Kind,
		Address:       s.Address,
		Port:          s.Port,
		Interval:      jsonDuration(s.Interval),
		Timeout:       jsonDuration(s.Timeout),
		Retries:       s.Retries,
		Method:        s.HTTPMethod,
		Scheme:        s.HTTPScheme,
		Path:          s.HTTPPath,
		ExpectedCodes: s.HTTPExpectedCodes,
		Query:         s.DNSQuery,
		ExpectedIPs:   s.DNSExpectedIPs,
	}
}

func fromWire(w wireCheckSpec) CheckSpec {
	return CheckSpec{
		ID:                w.ID,
		Kind:              w.CheckerType,
		Address:           w.Address,
		Port:              w.Port,
		Interval:          time.Duration(w.Interval),
		Timeout:           time.Duration(w.Timeout),
		Retries:           w.Retries,
		HTTPMethod:        w.Method,
		HTTPScheme:        w.Scheme,
		HTTPPath:          w.Path,
		HTTPExpectedCodes: w.ExpectedCodes,
		DNSQuery:          w.Query,
		DNSExpectedIPs:    w.ExpectedIPs,
	}
}

// wireStatus is the JSON wire shape of a Status/MonitorStats pair reported
// for one check.
type wireStatus struct {
	ID                CheckId      `json:"id"`
	Status            string       `json:"status"`
	LastCheckTime     *time.Time   `json:"last_check_time,omitempty"`
	Duration          jsonDuration `json:"duration"`
	Failures          uint64       `json:"failures"`
	Successes         uint64       `json:"successes"`
	Message           string       `json:"message,omitempty"`
	TotalChecks       uint64       `json:"total_checks"`
	SuccessfulChecks  uint64       `json:"successful_checks"`
	FailedChecks      uint64       `json:"failed_checks"`
	Timeouts          uint64       `json:"timeouts"`
	AvgResponseTimeMs float64      `json:"avg_response_time_ms"`
}

func toWireStatus(id CheckId, up bool, stats MonitorStats) wireStatus {
	status := "unhealthy"
	if up {
		status = "healthy"
	}

	var lastCheck *time.Time
	if !stats.LastCheckTime.IsZero() {
		lastCheck = &stats.LastCheckTime
	}

	return wireStatus{
		ID:                id,
		Status:            status,
		LastCheckTime:     lastCheck,
		Duration:          jsonDuration(stats.LastDuration),
		Failures:          stats.FailedChecks + stats.Timeouts,
		Successes:         stats.SuccessfulChecks,
		Message:           stats.LastMessage,
		TotalChecks:       stats.TotalChecks,
		SuccessfulChecks:  stats.SuccessfulChecks,
		FailedChecks:      stats.FailedChecks,
		Timeouts:          stats.Timeouts,
		AvgResponseTimeMs: stats.AvgResponseTimeMs,
	}
}

// ProxyToServerMsg is the tagged union of messages the control agent may
// send to the health-check engine.
type ProxyToServerMsg struct {
	Type    string          `json:"type"`
	Configs []wireCheckSpec `json:"configs,omitempty"`
}

const (
	msgUpdateConfigs = "update_configs"
	msgRequestStatus = "request_status"
	msgShutdown      = "shutdown"
)

const (
	msgNotificationBatch = "notification_batch"
	msgStatusResponse    = "status_response"
	msgReady             = "ready"
	msgError             = "error"
)

// ServerToProxyMsg is the tagged union of messages the health-check engine
// may send to the control agent.
type ServerToProxyMsg struct {
	Type     string       `json:"type"`
	Batch    []wireStatus `json:"batch,omitempty"`
	Statuses []wireStatus `json:"statuses,omitempty"`
	Message  string       `json:"message,omitempty"`
}

func readyMessage() ServerToProxyMsg {
	return ServerToProxyMsg{Type: msgReady}
}

func errorMessage(msg string) ServerToProxyMsg {
	return ServerToProxyMsg{Type: msgError, Message: msg}
}

func notificationBatchMessage(notifications []Notification) ServerToProxyMsg {
	batch := make([]wireStatus, 0, len(notifications))
	for _, n := range notifications {
		batch = append(batch, toWireStatus(n.ID, n.Status == StatusHealthy, n.Stats))
	}
	return ServerToProxyMsg{Type: msgNotificationBatch, Batch: batch}
}

func statusResponseMessage(snapshots []Snapshot) ServerToProxyMsg {
	statuses := make([]wireStatus, 0, len(snapshots))
	for _, s := range snapshots {
		statuses = append(statuses, toWireStatus(s.ID, s.Up, s.Stats))
	}
	return ServerToProxyMsg{Type: msgStatusResponse, Statuses: statuses}
}
