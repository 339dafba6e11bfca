package kernel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

const protocolREST = "rest"

// restKernel is one entry of the /api/kernels listing.
type restKernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state"`
}

func (k restKernel) identity() types.KernelIdentity {
	return identityFromState(k.ID, k.Name, k.ExecutionState)
}

// RESTControl talks to a Jupyter style kernels API:
//
//	GET  /api/kernels
//	POST /api/kernels                {"name": ...}
//	POST /api/kernels/{id}/interrupt
//	POST /api/kernels/{id}/restart
type RESTControl struct {
	resty *resty.Client
	retry *retryablehttp.Client
	guard *guard
}

// NewRESTControl creates a REST control client for baseURL.
func NewRESTControl(baseURL string, opts Options) *RESTControl {
	g := newGuard(protocolREST, opts)

	// Retries for connection errors and 5xx happen in the transport; the
	// final response is passed through so resty can classify it.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{g.logger.Sugar()}

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "execstream/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	if opts.Tracer != nil {
		client.OnBeforeRequest(tracing.RestyMiddleware(opts.Tracer))
		client.OnAfterResponse(tracing.RestyResponseMiddleware(opts.Tracer))
	}

	return &RESTControl{resty: client, retry: retryClient, guard: g}
}

// SetRetryMax changes how many times the transport retries a failed call.
// It must be called before the first request.
func (c *RESTControl) SetRetryMax(n int) {
	c.retry.RetryMax = n
}

// SetToken sends token as the Authorization header on every call.
func (c *RESTControl) SetToken(token string) {
	c.resty.SetHeader("Authorization", "token "+token)
}

// List returns every kernel the backend knows about.
func (c *RESTControl) List(ctx context.Context) ([]types.KernelIdentity, error) {
	return guarded(c.guard, ctx, "list", func(ctx context.Context) ([]types.KernelIdentity, error) {
		var kernels []restKernel
		resp, err := c.resty.R().
			SetContext(ctx).
			SetResult(&kernels).
			Get("/api/kernels")
		if err := check(resp, err); err != nil {
			return nil, err
		}
		out := make([]types.KernelIdentity, 0, len(kernels))
		for _, k := range kernels {
			out = append(out, k.identity())
		}
		return out, nil
	})
}

// Create starts a new kernel of the given kernelspec name.
func (c *RESTControl) Create(ctx context.Context, name string) (types.KernelIdentity, error) {
	return guarded(c.guard, ctx, "create", func(ctx context.Context) (types.KernelIdentity, error) {
		var kernel restKernel
		resp, err := c.resty.R().
			SetContext(ctx).
			SetBody(map[string]string{"name": name}).
			SetResult(&kernel).
			Post("/api/kernels")
		if err := check(resp, err); err != nil {
			return types.KernelIdentity{}, err
		}
		return kernel.identity(), nil
	})
}

// Interrupt asks the kernel to stop the running execution.
func (c *RESTControl) Interrupt(ctx context.Context, id string) error {
	return c.post(ctx, "interrupt", id)
}

// Restart asks the backend to restart the kernel.
func (c *RESTControl) Restart(ctx context.Context, id string) error {
	return c.post(ctx, "restart", id)
}

func (c *RESTControl) post(ctx context.Context, action, id string) error {
	_, err := guarded(c.guard, ctx, action, func(ctx context.Context) (struct{}, error) {
		resp, err := c.resty.R().
			SetContext(ctx).
			Post("/api/kernels/" + url.PathEscape(id) + "/" + action)
		return struct{}{}, check(resp, err)
	})
	return err
}

// check turns a resty outcome into a classified error. 4xx is a rejection
// except 408 and 429, which say nothing about the request itself.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	status := resp.StatusCode()
	switch {
	case status < 400:
		return nil
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", types.ErrRequestTimeout, status)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: status %d: %s", types.ErrTransport, status, snippet(resp.Body()))
	default:
		return fmt.Errorf("%w: status %d: %s", types.ErrBackendRejection, status, snippet(resp.Body()))
	}
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
