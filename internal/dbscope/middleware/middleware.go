// Package middleware binds a request context to every HTTP request served
// by gin and reports the SQL tab once the handler chain has finished.
package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/vaibhaw-/dbscope/internal/dbscope/aggregate"
	"github.com/vaibhaw-/dbscope/internal/dbscope/config"
	"github.com/vaibhaw-/dbscope/internal/dbscope/logger"
	"github.com/vaibhaw-/dbscope/internal/dbscope/policy"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/sanitize"
	"github.com/vaibhaw-/dbscope/internal/dbscope/tab"
)

// ContextKey is the gin key holding the *request.Context.
const ContextKey = "dbscope.request"

// Options configures Capture.
type Options struct {
	// Policy decides from the response status whether to report. Defaults
	// to a StatusCodePolicy with the default allow list.
	Policy *policy.StatusCodePolicy
	// NewContext builds the per-request context. Defaults to request.New.
	NewContext func(c *gin.Context) *request.Context
	Tab        tab.Options
	// OnReport receives the tab of every reported request. The tab is not
	// retained after it returns.
	OnReport func(c *gin.Context, t *tab.Tab)
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	binding, err := aggregate.ParseBinding(cfg.Aggregation.TransactionBinding)
	if err != nil {
		return Options{}, fmt.Errorf("aggregation config: %w", err)
	}
	ctxOpts := request.OptionsFromConfig(cfg)
	return Options{
		Policy: policy.NewStatusCodePolicy(cfg.Policy.StatusCodes...),
		NewContext: func(*gin.Context) *request.Context {
			return request.New(ctxOpts...)
		},
		Tab: tab.Options{
			Binding:   binding,
			Sanitizer: sanitize.Sanitizer{MaxValueLen: cfg.Output.MaxValueLen},
		},
	}, nil
}

// Capture returns the middleware.
func Capture(opts Options) gin.HandlerFunc {
	if opts.Policy == nil {
		opts.Policy = policy.NewStatusCodePolicy()
	}
	if opts.NewContext == nil {
		opts.NewContext = func(*gin.Context) *request.Context { return request.New() }
	}

	return func(c *gin.Context) {
		rc := opts.NewContext(c)
		c.Set(ContextKey, rc)
		c.Request = c.Request.WithContext(request.WithContext(c.Request.Context(), rc))

		c.Next()

		events := rc.Seal()
		status := c.Writer.Status()
		if opts.Policy.Execute(status) == policy.Off {
			logger.L().Debugw("telemetry suppressed by status code policy",
				"request", rc.ID,
				"status", status,
			)
			return
		}

		t := tab.Build(events, opts.Tab)
		if t == nil {
			return
		}
		t.RequestID = rc.ID

		logger.L().Infow("request telemetry",
			"request", rc.ID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"connections", t.Statistics.ConnectionCount,
			"queries", t.Statistics.QueryCount,
			"transactions", t.Statistics.TransactionCount,
			"query_time_ms", t.Statistics.QueryExecutionTime,
		)
		if opts.OnReport != nil {
			opts.OnReport(c, t)
		}
	}
}

// RequestContext returns the context bound by Capture, or nil outside it.
func RequestContext(c *gin.Context) *request.Context {
	if v, ok := c.Get(ContextKey); ok {
		if rc, ok := v.(*request.Context); ok {
			return rc
		}
	}
	return request.FromContext(c.Request.Context())
}
