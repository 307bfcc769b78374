// Package probe implements the concurrent TCP connect scanner. A probe
// is a single connect attempt; every attempt produces exactly one
// Result and connection failures of any kind are a negative Result,
// never an error.
package probe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/CZERTAINLY/port-lens/internal/parallel"
	"github.com/CZERTAINLY/port-lens/internal/policy"
	"github.com/CZERTAINLY/port-lens/internal/ports"
)

// ErrNotPermitted is returned by Scan when the engine level policy
// check refuses the host. No probe is dispatched and no partial report
// exists in that case.
var ErrNotPermitted = errors.New("host is not inside allowed networks")

const (
	// DefaultTimeout is the per probe connect timeout.
	DefaultTimeout = 800 * time.Millisecond
	// DefaultLimit caps the number of in-flight probes.
	DefaultLimit = 200
)

// Dialer is the seam for the actual TCP connect, satisfied by
// *net.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Result is the outcome of probing one port, immutable once produced.
type Result struct {
	Port    int    `json:"port"`
	Open    bool   `json:"open"`
	Service string `json:"service,omitempty"`
}

// Report holds one Result per requested port, in ascending port order.
type Report []Result

// OpenCount returns how many ports of the report accepted the connect.
func (r Report) OpenCount() int {
	var n int
	for _, res := range r {
		if res.Open {
			n++
		}
	}
	return n
}

// OpenPorts returns the ascending port numbers which accepted the
// connect.
func (r Report) OpenPorts() []int {
	var ret []int
	for _, res := range r {
		if res.Open {
			ret = append(ret, res.Port)
		}
	}
	return ret
}

// Scanner probes a set of ports on a single host with a bounded worker
// pool. The zero value is not usable, call New.
type Scanner struct {
	dialer   Dialer
	policy   policy.Policy
	timeout  time.Duration
	limit    int
	progress func(Result)
}

// New creates a Scanner with the default timeout and concurrency limit
// and no policy, dialing with a plain net.Dialer.
func New() Scanner {
	return Scanner{
		dialer:  &net.Dialer{KeepAlive: -1},
		timeout: DefaultTimeout,
		limit:   DefaultLimit,
	}
}

// WithDialer replaces the dialer, the seam used by tests.
func (s Scanner) WithDialer(d Dialer) Scanner {
	s.dialer = d
	return s
}

// WithTimeout sets the per probe connect timeout.
func (s Scanner) WithTimeout(d time.Duration) Scanner {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithLimit sets the maximum number of concurrent probes. The
// effective limit of a scan is still bounded by the port count.
func (s Scanner) WithLimit(n int) Scanner {
	if n > 0 {
		s.limit = n
	}
	return s
}

// WithPolicy makes the scanner enforce its own policy check before any
// probe runs, independently of checks done by upper layers.
func (s Scanner) WithPolicy(p policy.Policy) Scanner {
	s.policy = p
	return s
}

// WithProgress registers a callback invoked by the coordinator once
// per completed probe, in completion order. Used by the CLI progress
// bar. The callback runs on the coordinating goroutine, never
// concurrently with itself.
func (s Scanner) WithProgress(f func(Result)) Scanner {
	s.progress = f
	return s
}

// Scan probes every port of portList on host and returns the complete
// report sorted by ascending port number. An empty port list returns
// an empty report without dialing. When the scanner carries a policy
// and the host violates it, the whole scan fails with ErrNotPermitted.
// Per port connect failures are not errors, they are closed ports.
func (s Scanner) Scan(ctx context.Context, host string, portList []int) (Report, error) {
	if len(portList) == 0 {
		return Report{}, nil
	}

	if !s.policy.IsZero() {
		if err := s.policy.Authorize(ctx, host); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotPermitted, err)
		}
	}

	limit := min(s.limit, len(portList))
	probe := func(ctx context.Context, port int) (Result, error) {
		return s.probeOne(ctx, host, port), nil
	}

	report := make(Report, 0, len(portList))
	for res := range parallel.NewMap(ctx, limit, probe).Iter(allPorts(portList)) {
		// the coordinator owns the report, workers only return values
		report = append(report, res)
		if s.progress != nil {
			s.progress(res)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(report, func(a, b Result) int {
		return a.Port - b.Port
	})
	return report, nil
}

// probeOne attempts a single TCP connect. On success the connection is
// closed immediately and the service name guessed. Every dial failure,
// timeout, refusal or unreachable alike, collapses into Open=false.
func (s Scanner) probeOne(ctx context.Context, host string, port int) Result {
	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return Result{Port: port}
	}
	_ = conn.Close()

	return Result{
		Port:    port,
		Open:    true,
		Service: ports.ServiceName(port),
	}
}

func allPorts(portList []int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for _, p := range portList {
			if !yield(p, nil) {
				return
			}
		}
	}
}
