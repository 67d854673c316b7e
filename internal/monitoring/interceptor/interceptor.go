// Package interceptor implements C6: HTTP middleware that catches unhandled
// panics and 5xx responses, reports them to the Notifier with fingerprinted
// rate limiting, and records slow requests for the batch digest (C9),
// grounded on original_source/monitoring/middleware.py's MonitoringMiddleware.
package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/flowlane/pulsefeed/infrastructure/httputil"
	"github.com/flowlane/pulsefeed/infrastructure/logging"
	"github.com/flowlane/pulsefeed/infrastructure/utils"
	"github.com/flowlane/pulsefeed/internal/monitoring/fingerprint"
	"github.com/flowlane/pulsefeed/internal/monitoring/kv"
	"github.com/flowlane/pulsefeed/internal/monitoring/notifier"
)

const (
	statsTTL              = 7 * 24 * time.Hour
	maxSlowRequestHistory = 100
	maxQueryLen           = 100
	maxUserAgentLen       = 100
)

// Config controls one Interceptor's behavior, mirroring monitoring_config's
// MONITORING_ENABLED/MONITOR_SLOW_REQUESTS/SLOW_REQUEST_THRESHOLD_SECONDS
// and the ignored-path allowlist.
type Config struct {
	Enabled             bool
	MonitorSlowRequests bool
	SlowThreshold       time.Duration
	BatchWindow         time.Duration
	IgnoredPaths        []string
	IgnoredErrorClasses []string
}

func (c Config) shouldMonitorPath(path string) bool {
	for _, p := range c.IgnoredPaths {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}

// shouldMonitorErrorClass reports whether a panic value's dynamic type
// warrants fingerprinting and alerting. Types on the ignore list are
// considered handled elsewhere and are left to propagate unchanged.
func (c Config) shouldMonitorErrorClass(errClass string) bool {
	return !utils.Contains(c.IgnoredErrorClasses, errClass)
}

// Interceptor wraps an http.Handler chain with exception and slow-request
// monitoring. One Interceptor is shared by every route.
type Interceptor struct {
	kv      kv.Adapter
	limiter *fingerprint.RateLimiter
	notif   *notifier.Notifier
	log     *logging.Logger
	cfg     Config

	wg sync.WaitGroup
}

// New constructs an Interceptor.
func New(kvAdapter kv.Adapter, limiter *fingerprint.RateLimiter, n *notifier.Notifier, log *logging.Logger, cfg Config) *Interceptor {
	return &Interceptor{kv: kvAdapter, limiter: limiter, notif: n, log: log, cfg: cfg}
}

// Handler returns the monitoring middleware. It must wrap the outermost
// layer of the chain below RecoveryMiddleware: recovery still prevents the
// panic from escaping to the server, but this middleware runs the alerting
// and captures the generic error_id response body before recovery's own
// catch-all fires.
func (in *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !in.cfg.Enabled || !in.cfg.shouldMonitorPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		reqInfo := requestInfo{
			path:      r.URL.Path,
			method:    r.Method,
			query:     r.URL.RawQuery,
			userID:    httputil.GetUserID(r),
			userAgent: r.Header.Get("User-Agent"),
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if rv := recover(); rv != nil {
				if !in.cfg.shouldMonitorErrorClass(fmt.Sprintf("%T", rv)) {
					in.log.Debug(r.Context(), "ignoring exception class", map[string]interface{}{"type": fmt.Sprintf("%T", rv)})
					panic(rv)
				}
				in.handlePanic(r.Context(), rv, reqInfo, w, r)
			}
		}()

		next.ServeHTTP(rec, r)

		if rec.status >= 500 {
			in.spawn(func(ctx context.Context) {
				in.reportStatusError(ctx, reqInfo, rec.status)
			})
		}

		if in.cfg.MonitorSlowRequests {
			elapsed := time.Since(start)
			if elapsed > in.cfg.SlowThreshold {
				in.spawn(func(ctx context.Context) {
					in.reportSlowRequest(ctx, reqInfo, elapsed)
				})
			}
		}
	})
}

// Shutdown waits for in-flight side tasks to drain, up to ctx's deadline.
func (in *Interceptor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type requestInfo struct {
	path      string
	method    string
	query     string
	userID    string
	userAgent string
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

// spawn runs fn in a tracked goroutine with its own background context, so
// the side task survives the request's cancellation, matching "side tasks
// launched by the interceptor ignore request-level cancellation."
func (in *Interceptor) spawn(fn func(ctx context.Context)) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer func() {
			if rv := recover(); rv != nil {
				in.log.Error(context.Background(), "monitoring side task panicked", fmt.Errorf("%v", rv), nil)
			}
		}()
		fn(context.Background())
	}()
}

func (in *Interceptor) handlePanic(ctx context.Context, rv interface{}, reqInfo requestInfo, w http.ResponseWriter, r *http.Request) {
	err := toError(rv)
	errClass := fmt.Sprintf("%T", rv)
	errMsg := err.Error()
	stack := string(debug.Stack())

	fp := fingerprint.Fingerprint(reqInfo.path, reqInfo.method, errClass, errMsg)
	shouldAlert := in.limiter.ShouldAlert(ctx, fp)

	if shouldAlert {
		in.spawn(func(bgCtx context.Context) {
			in.sendExceptionAlert(bgCtx, err, errClass, reqInfo, 500, stack)
		})
	}
	in.spawn(func(bgCtx context.Context) {
		in.recordError(bgCtx, reqInfo.path, 500, errClass)
	})

	in.log.Error(ctx, "unhandled panic in handler", err, map[string]interface{}{"path": reqInfo.path, "error_id": fp})
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "internal_error", "Internal server error", map[string]string{"error_id": fp})
}

func toError(rv interface{}) error {
	if err, ok := rv.(error); ok {
		return err
	}
	return fmt.Errorf("%v", rv)
}

// reportStatusError handles a handler-signaled >=500 response that did not
// panic (the HTTPException branch of the original middleware): reported
// unconditionally, with no rate-limit dedup.
func (in *Interceptor) reportStatusError(ctx context.Context, reqInfo requestInfo, status int) {
	in.sendExceptionAlert(ctx, fmt.Errorf("handler returned status %d", status), "HTTPError", reqInfo, status, "")
	in.recordError(ctx, reqInfo.path, status, "HTTPError")
}

func (in *Interceptor) sendExceptionAlert(ctx context.Context, err error, errClass string, reqInfo requestInfo, status int, stack string) {
	if in.notif == nil {
		return
	}
	details := map[string]string{
		"Endpoint": fmt.Sprintf("%s %s", reqInfo.method, reqInfo.path),
		"Status":   fmt.Sprintf("%d", status),
	}
	if reqInfo.query != "" {
		q := reqInfo.query
		if len(q) > maxQueryLen {
			q = q[:maxQueryLen]
		}
		details["Query"] = q
	}
	if reqInfo.userID != "" {
		details["User"] = reqInfo.userID
	} else {
		details["User"] = "Anonymous"
	}
	if reqInfo.userAgent != "" {
		ua := reqInfo.userAgent
		if len(ua) > maxUserAgentLen {
			ua = ua[:maxUserAgentLen]
		}
		details["User-Agent"] = ua
	}

	var traceback []string
	if stack != "" {
		traceback = strings.Split(stack, "\n")
	}

	in.notif.SendAlert(ctx, notifier.Alert{
		Title:     fmt.Sprintf("ERROR %d", status),
		Message:   fmt.Sprintf("Unhandled exception in %s", reqInfo.path),
		Level:     notifier.LevelCritical,
		Details:   details,
		ErrorType: errClass,
		ErrorText: err.Error(),
		Traceback: traceback,
	})
}

func (in *Interceptor) recordError(ctx context.Context, path string, status int, errClass string) {
	today := time.Now().UTC().Format("2006-01-02")
	prefix := "monitoring:stats:" + today + ":errors:"

	for _, key := range []string{
		prefix + "total",
		prefix + "type:" + errClass,
		prefix + "endpoint:" + path,
		prefix + fmt.Sprintf("status:%d", status),
	} {
		if _, err := in.kv.Incr(ctx, key); err != nil {
			in.log.Warn(ctx, "failed to record error statistics", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}
		_ = in.kv.Expire(ctx, key, statsTTL)
	}
}

func (in *Interceptor) reportSlowRequest(ctx context.Context, reqInfo requestInfo, elapsed time.Duration) {
	hourBucket := time.Now().UTC().Format("2006-01-02-15")
	batchKey := fmt.Sprintf("monitoring:slow_requests_batch:%s", hourBucket)

	entry := fmt.Sprintf(`{"path":"%s %s","time":%.3f,"user":"%s","timestamp":%d}`,
		reqInfo.method, reqInfo.path, elapsed.Seconds(), userOrAnonymous(reqInfo.userID), time.Now().Unix())
	if err := in.kv.LPush(ctx, batchKey, entry); err != nil {
		in.log.Error(ctx, "failed to push slow request batch entry", err, nil)
	}
	_ = in.kv.Expire(ctx, batchKey, time.Hour)

	fp := fmt.Sprintf("slow:%s:%s", reqInfo.path, reqInfo.method)
	slowKey := "monitoring:slow_requests:" + fp
	window := in.cfg.BatchWindow
	if window <= 0 {
		window = time.Hour
	}
	first, err := in.kv.SetNX(ctx, slowKey, "1", window)
	if err == nil && first && in.notif != nil {
		details := map[string]string{
			"Endpoint":      fmt.Sprintf("%s %s", reqInfo.method, reqInfo.path),
			"Response Time": fmt.Sprintf("%.2f seconds", elapsed.Seconds()),
			"Threshold":     fmt.Sprintf("%v", in.cfg.SlowThreshold),
		}
		if reqInfo.userID != "" {
			details["User"] = reqInfo.userID
		}
		if reqInfo.query != "" {
			q := reqInfo.query
			if len(q) > maxQueryLen {
				q = q[:maxQueryLen]
			}
			details["Query"] = q
		}
		in.notif.SendAlert(ctx, notifier.Alert{
			Title:   "Slow Request Detected",
			Message: fmt.Sprintf("Request took %.1fs to complete", elapsed.Seconds()),
			Level:   notifier.LevelWarning,
			Details: details,
		})
	}

	in.recordSlowRequestStats(ctx, reqInfo.path, elapsed)
}

func (in *Interceptor) recordSlowRequestStats(ctx context.Context, path string, elapsed time.Duration) {
	today := time.Now().UTC().Format("2006-01-02")
	countKey := fmt.Sprintf("monitoring:stats:%s:slow_requests:%s", today, path)
	if _, err := in.kv.Incr(ctx, countKey); err != nil {
		in.log.Warn(ctx, "failed to record slow request count", map[string]interface{}{"error": err.Error()})
	} else {
		_ = in.kv.Expire(ctx, countKey, statsTTL)
	}

	timesKey := fmt.Sprintf("monitoring:stats:%s:slow_requests:times", today)
	_ = in.kv.LPush(ctx, timesKey, fmt.Sprintf("%s:%.2f", path, elapsed.Seconds()))
	_ = in.kv.LTrim(ctx, timesKey, maxSlowRequestHistory)
	_ = in.kv.Expire(ctx, timesKey, statsTTL)
}

func userOrAnonymous(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}
