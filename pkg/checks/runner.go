// Package checks executes whitelisted verification capabilities against the
// local environment. Each check runs exactly once with its own timeout;
// retry policy belongs to callers. Reported order is by check_id, never by
// execution order.
package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cart144/dil/pkg/models"
)

// Capability names accepted by the runner.
const (
	CapFileExists   = "check_file_exists"
	CapCommandExit  = "check_command_exit"
	CapHTTPEndpoint = "check_http_endpoint"
)

const (
	defaultCommandTimeout = 30000 * time.Millisecond
	defaultHTTPTimeout    = 5000 * time.Millisecond
)

// Runner executes verification checks. The zero value is usable; the
// function fields exist so tests can substitute the side-effecting probes.
type Runner struct {
	HTTPClient *http.Client
	Stat       func(string) (os.FileInfo, error)
	RunCommand func(ctx context.Context, name string, args []string) (int, error)
}

func NewRunner() *Runner {
	return &Runner{}
}

// Run executes every check once and assembles a verification receipt.
// Checks run concurrently; results are ordered by check_id afterwards.
// The second return value is the process exit code
// (verified=0, unverified=1, unknown=2).
func (r *Runner) Run(ctx context.Context, parsed models.ParsedSpec, receiptRef string, specs []models.CheckSpec) (models.VerificationReceipt, int) {
	results := make([]models.CheckResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec models.CheckSpec) {
			defer wg.Done()
			results[i] = r.runOne(ctx, spec)
		}(i, spec)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CheckID < results[j].CheckID
	})

	receipt := models.VerificationReceipt{
		ReceiptType:          "verification",
		ReceiptVersion:       models.ReceiptVersion,
		SpecVersion:          parsed.SpecVersion,
		SystemID:             parsed.SystemID,
		ValidationReceiptRef: receiptRef,
		State:                aggregate(results),
		Checks:               results,
	}
	return receipt, exitCode(receipt.State)
}

func aggregate(results []models.CheckResult) string {
	for _, c := range results {
		if c.Status == models.CheckFailed {
			return models.StateUnverified
		}
	}
	for _, c := range results {
		if c.Status == models.CheckUnknown {
			return models.StatusUnknown
		}
	}
	return models.StateVerified
}

func exitCode(state string) int {
	switch state {
	case models.StateUnverified:
		return models.ExitInvalid
	case models.StatusUnknown:
		return models.ExitUndecidable
	default:
		return models.ExitOK
	}
}

func (r *Runner) runOne(ctx context.Context, spec models.CheckSpec) models.CheckResult {
	res := models.CheckResult{CheckID: spec.CheckID, Capability: spec.Capability}
	params, reason := parsePredicate(spec.Capability, spec.Predicate)
	if reason != "" {
		res.Status = models.CheckUnknown
		res.Reason = reason
		return res
	}
	switch spec.Capability {
	case CapFileExists:
		res.Status, res.Reason, res.Evidence = r.checkFileExists(params)
	case CapCommandExit:
		res.Status, res.Reason, res.Evidence = r.checkCommandExit(ctx, params)
	case CapHTTPEndpoint:
		res.Status, res.Reason, res.Evidence = r.checkHTTPEndpoint(ctx, params)
	default:
		res.Status = models.CheckUnknown
		res.Reason = "unsupported_capability:" + spec.Capability
	}
	return res
}

var capabilityKeys = map[string]struct {
	required []string
	optional []string
}{
	CapFileExists:   {required: []string{"path"}, optional: []string{"type", "min_size_bytes"}},
	CapCommandExit:  {required: []string{"cmd", "args"}, optional: []string{"expected_exit", "timeout_ms"}},
	CapHTTPEndpoint: {required: []string{"url"}, optional: []string{"method", "expected_status", "timeout_ms"}},
}

// parsePredicate splits "<capability> key=value ..." tolerantly. Any anomaly
// is reported as an indeterminacy reason, never as a hard error.
func parsePredicate(capability, predicate string) (map[string]string, string) {
	schema, supported := capabilityKeys[capability]
	tokens := strings.Fields(predicate)
	params := map[string]string{}
	for i, tok := range tokens {
		if i == 0 && !strings.Contains(tok, "=") {
			// Leading capability token; the CheckSpec capability is
			// authoritative.
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, "malformed_token:" + tok
		}
		params[kv[0]] = kv[1]
	}
	if !supported {
		// Capability dispatch reports unsupported_capability; params are
		// irrelevant by then.
		return params, ""
	}
	for k := range params {
		if !containsKey(schema.required, k) && !containsKey(schema.optional, k) {
			return nil, "unknown_key:" + k
		}
	}
	for _, k := range schema.required {
		if _, ok := params[k]; !ok {
			return nil, "missing_required_key:" + k
		}
	}
	return params, ""
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func (r *Runner) checkFileExists(params map[string]string) (string, string, []string) {
	path := params["path"]
	if !strings.HasPrefix(path, "/") {
		return models.CheckUnknown, "invalid_value:path", nil
	}
	minSize := int64(-1)
	if raw, ok := params["min_size_bytes"]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return models.CheckUnknown, "invalid_value:min_size_bytes", nil
		}
		minSize = parsed
	}
	wantType := params["type"]
	if wantType != "" && wantType != "file" && wantType != "directory" {
		return models.CheckUnknown, "invalid_value:type", nil
	}

	stat := r.Stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.CheckFailed, "not_found", []string{path}
		}
		if errors.Is(err, fs.ErrPermission) {
			return models.CheckUnknown, "permission_denied", []string{path}
		}
		return models.CheckUnknown, "stat_error", []string{path}
	}
	if wantType == "file" && info.IsDir() {
		return models.CheckFailed, "type_mismatch", []string{path}
	}
	if wantType == "directory" && !info.IsDir() {
		return models.CheckFailed, "type_mismatch", []string{path}
	}
	if minSize >= 0 && info.Size() < minSize {
		return models.CheckFailed, "size_below_minimum", []string{fmt.Sprintf("%s size=%d", path, info.Size())}
	}
	return models.CheckPassed, "", nil
}

func (r *Runner) checkCommandExit(ctx context.Context, params map[string]string) (string, string, []string) {
	expected := 0
	if raw, ok := params["expected_exit"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return models.CheckUnknown, "invalid_value:expected_exit", nil
		}
		expected = parsed
	}
	timeout := defaultCommandTimeout
	if raw, ok := params["timeout_ms"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return models.CheckUnknown, "invalid_value:timeout_ms", nil
		}
		timeout = time.Duration(parsed) * time.Millisecond
	}
	var args []string
	if raw := params["args"]; raw != "" {
		for _, a := range strings.Split(raw, ",") {
			args = append(args, a)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := r.RunCommand
	if run == nil {
		run = execCommand
	}
	code, err := run(runCtx, params["cmd"], args)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			// Timeout is indeterminacy, not a confirmed negative.
			return models.CheckUnknown, "timeout", nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return models.CheckFailed, "command_not_found", []string{params["cmd"]}
		}
		if errors.Is(err, fs.ErrPermission) {
			return models.CheckUnknown, "permission_denied", []string{params["cmd"]}
		}
		return models.CheckUnknown, "spawn_error", []string{params["cmd"]}
	}
	if code != expected {
		return models.CheckFailed, fmt.Sprintf("exit_mismatch:%d", code), []string{params["cmd"]}
	}
	return models.CheckPassed, "", nil
}

func execCommand(ctx context.Context, name string, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (r *Runner) checkHTTPEndpoint(ctx context.Context, params map[string]string) (string, string, []string) {
	rawURL := params["url"]
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return models.CheckUnknown, "invalid_value:url", nil
	}
	method := http.MethodGet
	if raw, ok := params["method"]; ok {
		switch raw {
		case http.MethodGet, http.MethodHead:
			method = raw
		default:
			return models.CheckUnknown, "invalid_value:method", nil
		}
	}
	expected := http.StatusOK
	if raw, ok := params["expected_status"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return models.CheckUnknown, "invalid_value:expected_status", nil
		}
		expected = parsed
	}
	timeout := defaultHTTPTimeout
	if raw, ok := params["timeout_ms"]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return models.CheckUnknown, "invalid_value:timeout_ms", nil
		}
		timeout = time.Duration(parsed) * time.Millisecond
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, nil)
	if err != nil {
		return models.CheckUnknown, "invalid_value:url", nil
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		reason := classifyHTTPError(err)
		// A refused connection is a confirmed negative determination.
		if reason == "connection_refused" {
			return models.CheckFailed, reason, []string{rawURL}
		}
		return models.CheckUnknown, reason, []string{rawURL}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != expected {
		return models.CheckFailed, fmt.Sprintf("status_mismatch:%d", resp.StatusCode), []string{rawURL}
	}
	return models.CheckPassed, "", nil
}

// classifyHTTPError separates confirmed negatives from indeterminacy:
// a refused connection is a determination, everything else is unknown.
func classifyHTTPError(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection_refused"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "network_error"
}
