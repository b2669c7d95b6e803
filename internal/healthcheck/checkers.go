package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Checker is the polymorphic capability a Monitor owns: it knows how to
// probe one destination and report a Result.
type Checker interface {
	Check(ctx context.Context) Result
	Name() string
}

// NewChecker builds the Checker named by spec.Kind.
func NewChecker(spec *CheckSpec) (Checker, error) {
	switch spec.Kind {
	case CheckKindTCP:
		return &tcpChecker{addr: net.JoinHostPort(spec.Address, portString(spec.Port)), timeout: spec.Timeout}, nil
	case CheckKindHTTP:
		return newHTTPChecker(spec), nil
	case CheckKindDNS:
		return newDNSChecker(spec), nil
	default:
		return nil, &ConfigError{ID: spec.ID, Msg: fmt.Sprintf("unknown checker_type %q", spec.Kind)}
	}
}

func portString(port uint16) string {
	return fmt.Sprintf("%d", port)
}

// tcpChecker succeeds when it can open and immediately close a TCP
// connection to addr within timeout.
type tcpChecker struct {
	addr    string
	timeout time.Duration
}

func (c *tcpChecker) Name() string { return "tcp" }

func (c *tcpChecker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	dur := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Status: StatusTimeout, Duration: dur, Message: err.Error()}
		}
		return Result{Status: StatusUnhealthy, Duration: dur, Message: err.Error()}
	}
	conn.Close()

	return Result{Status: StatusHealthy, Duration: dur, Message: "tcp connect successful"}
}

// httpChecker issues a single HTTP request and checks the response status
// code against an expected set.
type httpChecker struct {
	client        *http.Client
	method        string
	url           string
	expectedCodes map[int]struct{}
}

func newHTTPChecker(spec *CheckSpec) *httpChecker {
	scheme := spec.HTTPScheme
	if scheme == "" {
		scheme = "http"
	}
	method := spec.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	expected := make(map[int]struct{}, len(spec.HTTPExpectedCodes))
	for _, code := range spec.HTTPExpectedCodes {
		expected[code] = struct{}{}
	}

	return &httpChecker{
		client:        &http.Client{Timeout: spec.Timeout},
		method:        method,
		url:           fmt.Sprintf("%s://%s:%d%s", scheme, spec.Address, spec.Port, spec.HTTPPath),
		expectedCodes: expected,
	}
}

func (c *httpChecker) Name() string { return "http" }

func (c *httpChecker) Check(ctx context.Context) Result {
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, nil)
	if err != nil {
		return Result{Status: StatusError, Message: err.Error()}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	dur := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Status: StatusTimeout, Duration: dur, Message: err.Error()}
		}
		return Result{Status: StatusError, Duration: dur, Message: err.Error()}
	}
	defer resp.Body.Close()

	status := StatusUnhealthy
	if len(c.expectedCodes) == 0 {
		status = StatusHealthy
	} else if _, ok := c.expectedCodes[resp.StatusCode]; ok {
		status = StatusHealthy
	}

	message := fmt.Sprintf("http request to %s returned unexpected status %d", c.url, resp.StatusCode)
	if status == StatusHealthy {
		message = fmt.Sprintf("http check successful: status %d", resp.StatusCode)
	}

	return Result{Status: status, Duration: dur, ResponseCode: resp.StatusCode, HasResponseCode: true, Message: message}
}

// dnsChecker resolves a query and checks the returned addresses against an
// expected set.
type dnsChecker struct {
	resolver   *net.Resolver
	query      string
	timeout    time.Duration
	expectedIPs map[string]struct{}
}

func newDNSChecker(spec *CheckSpec) *dnsChecker {
	expected := make(map[string]struct{}, len(spec.DNSExpectedIPs))
	for _, ip := range spec.DNSExpectedIPs {
		expected[ip] = struct{}{}
	}

	return &dnsChecker{
		resolver:    net.DefaultResolver,
		query:       spec.DNSQuery,
		timeout:     spec.Timeout,
		expectedIPs: expected,
	}
}

func (c *dnsChecker) Name() string { return "dns" }

func (c *dnsChecker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	addrs, err := c.resolver.LookupHost(ctx, c.query)
	dur := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Status: StatusTimeout, Duration: dur, Message: err.Error()}
		}
		return Result{Status: StatusError, Duration: dur, Message: err.Error()}
	}

	if len(c.expectedIPs) == 0 {
		if len(addrs) == 0 {
			return Result{Status: StatusUnhealthy, Duration: dur, Message: "no addresses returned"}
		}
		return Result{Status: StatusHealthy, Duration: dur, Message: "dns resolution successful"}
	}

	for _, addr := range addrs {
		if _, ok := c.expectedIPs[addr]; ok {
			return Result{Status: StatusHealthy, Duration: dur, Message: "dns resolution successful"}
		}
	}

	return Result{Status: StatusUnhealthy, Duration: dur, Message: "no returned address matched the expected set"}
}
