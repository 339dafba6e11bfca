package kernel

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

const protocolGRPC = "grpc"

// ControlService is the fully qualified gRPC service name.
const ControlService = "execstream.kernel.v1.KernelControl"

// Method names on ControlService. Requests and responses are
// google.protobuf.Struct.
const (
	MethodListKernels     = "/" + ControlService + "/ListKernels"
	MethodCreateKernel    = "/" + ControlService + "/CreateKernel"
	MethodInterruptKernel = "/" + ControlService + "/InterruptKernel"
	MethodRestartKernel   = "/" + ControlService + "/RestartKernel"
)

// GRPCControl calls the KernelControl service.
type GRPCControl struct {
	conn  *grpc.ClientConn
	addr  string
	guard *guard
}

// NewGRPCControl creates a client for addr. Extra dial options are appended
// after the defaults.
func NewGRPCControl(addr string, opts Options, dialOpts ...grpc.DialOption) (*GRPCControl, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Configure keepalive to detect broken connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(10*1024*1024),
			grpc.MaxCallSendMsgSize(10*1024*1024),
		),
	}
	if opts.Tracer != nil {
		defaults = append(defaults, grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(opts.Tracer)))
	}

	conn, err := grpc.NewClient(addr, append(defaults, dialOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kernel control: %w", err)
	}

	return &GRPCControl{
		conn:  conn,
		addr:  addr,
		guard: newGuard(protocolGRPC, opts),
	}, nil
}

// Close closes the connection
func (c *GRPCControl) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Addr returns the dialed address.
func (c *GRPCControl) Addr() string {
	return c.addr
}

// List returns every kernel the backend knows about.
func (c *GRPCControl) List(ctx context.Context) ([]types.KernelIdentity, error) {
	return guarded(c.guard, ctx, "list", func(ctx context.Context) ([]types.KernelIdentity, error) {
		resp, err := c.invoke(ctx, MethodListKernels, nil)
		if err != nil {
			return nil, err
		}
		list := resp.GetFields()["kernels"].GetListValue().GetValues()
		out := make([]types.KernelIdentity, 0, len(list))
		for _, v := range list {
			if k := v.GetStructValue(); k != nil {
				out = append(out, identityFromStruct(k))
			}
		}
		return out, nil
	})
}

// Create starts a new kernel of the given kernelspec name.
func (c *GRPCControl) Create(ctx context.Context, name string) (types.KernelIdentity, error) {
	return guarded(c.guard, ctx, "create", func(ctx context.Context) (types.KernelIdentity, error) {
		resp, err := c.invoke(ctx, MethodCreateKernel, map[string]any{"name": name})
		if err != nil {
			return types.KernelIdentity{}, err
		}
		return identityFromStruct(resp), nil
	})
}

// Interrupt asks the kernel to stop the running execution.
func (c *GRPCControl) Interrupt(ctx context.Context, id string) error {
	_, err := guarded(c.guard, ctx, "interrupt", func(ctx context.Context) (*structpb.Struct, error) {
		return c.invoke(ctx, MethodInterruptKernel, map[string]any{"id": id})
	})
	return err
}

// Restart asks the backend to restart the kernel.
func (c *GRPCControl) Restart(ctx context.Context, id string) error {
	_, err := guarded(c.guard, ctx, "restart", func(ctx context.Context) (*structpb.Struct, error) {
		return c.invoke(ctx, MethodRestartKernel, map[string]any{"id": id})
	})
	return err
}

func (c *GRPCControl) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

// grpcError maps a status code onto the control error kinds.
func grpcError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition,
		codes.PermissionDenied, codes.AlreadyExists, codes.Unauthenticated:
		return fmt.Errorf("%w: %s: %s", types.ErrBackendRejection, st.Code(), st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", types.ErrRequestTimeout, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", types.ErrTransport, st.Code(), st.Message())
	}
}

func identityFromStruct(s *structpb.Struct) types.KernelIdentity {
	f := s.GetFields()
	return identityFromState(
		f["id"].GetStringValue(),
		f["name"].GetStringValue(),
		f["execution_state"].GetStringValue(),
	)
}
