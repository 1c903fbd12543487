// Package remote serves and consumes classification oracles over gRPC.
//
// Messages are google.protobuf.Struct values so no generated stubs are
// needed. Matrices travel row-major in a flat "values" list alongside
// "rows" and "cols".
package remote

import (
	"context"
	"fmt"
	"math"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/oracle"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bathy.oracle.v1.Oracle"

const (
	describeMethod = "/" + ServiceName + "/Describe"
	predictMethod  = "/" + ServiceName + "/Predict"
)

// Prediction modes.
const (
	ModeLabels      = "labels"
	ModeProbability = "probability"
)

// OracleServer is the server API of the oracle service.
type OracleServer interface {
	Describe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: unaryHandler(describeMethod, OracleServer.Describe)},
		{MethodName: "Predict", Handler: unaryHandler(predictMethod, OracleServer.Predict)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bathy/oracle/v1/oracle.proto",
}

type unaryMethod func(OracleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OracleServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OracleServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterOracleServer registers srv with a gRPC server.
func RegisterOracleServer(s grpc.ServiceRegistrar, srv OracleServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server exposes a local Oracle over gRPC.
type Server struct {
	oracle oracle.Oracle
	kind   string
}

var _ OracleServer = (*Server)(nil)

// NewServer wraps o. kind is reported by Describe.
func NewServer(o oracle.Oracle, kind string) *Server {
	return &Server{oracle: o, kind: kind}
}

// Describe reports the served model's feature contract.
func (s *Server) Describe(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	names := s.oracle.Features()
	list := make([]*structpb.Value, len(names))
	for i, n := range names {
		list[i] = structpb.NewStringValue(n)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":     structpb.NewStringValue(s.kind),
		"features": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}, nil
}

// Predict runs the wrapped oracle on the request matrix.
func (s *Server) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	x, err := decodeMatrix(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, cols := x.Dims(); cols != len(s.oracle.Features()) {
		return nil, status.Errorf(codes.InvalidArgument, "model has %d features, request has %d columns",
			len(s.oracle.Features()), cols)
	}

	mode := req.GetFields()["mode"].GetStringValue()
	rows, _ := x.Dims()
	monitoring.Debugf("remote: predict %s for %d rows", mode, rows)

	var out []float64
	switch mode {
	case ModeLabels, "":
		classes, err := s.oracle.Predict(x)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out = labels.ClassesToFloat(classes)
	case ModeProbability:
		out, err = s.oracle.PredictProbability(x)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown mode %q", mode)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"values": numberList(out),
	}}, nil
}

func numberList(v []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, f := range v {
		vals[i] = structpb.NewNumberValue(f)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func floatList(v *structpb.Value) ([]float64, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("values is not a list")
	}
	out := make([]float64, len(list.GetValues()))
	for i, e := range list.GetValues() {
		n, ok := e.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("values[%d] is not a number", i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func encodeMatrix(x mat.Matrix, mode string) *structpb.Struct {
	rows, cols := x.Dims()
	flat := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			flat = append(flat, x.At(i, j))
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"rows":   structpb.NewNumberValue(float64(rows)),
		"cols":   structpb.NewNumberValue(float64(cols)),
		"mode":   structpb.NewStringValue(mode),
		"values": numberList(flat),
	}}
}

func decodeMatrix(req *structpb.Struct) (*mat.Dense, error) {
	f := req.GetFields()
	rows, err := count(f["rows"], "rows")
	if err != nil {
		return nil, err
	}
	cols, err := count(f["cols"], "cols")
	if err != nil {
		return nil, err
	}
	vals, err := floatList(f["values"])
	if err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty matrix %dx%d", rows, cols)
	}
	if len(vals) != rows*cols {
		return nil, fmt.Errorf("%d values for a %dx%d matrix", len(vals), rows, cols)
	}
	return mat.NewDense(rows, cols, vals), nil
}

func count(v *structpb.Value, name string) (int, error) {
	n := v.GetNumberValue()
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, fmt.Errorf("invalid %s %g", name, n)
	}
	return int(n), nil
}

// Serve listens on addr and serves o until ctx is cancelled, then stops
// gracefully.
func Serve(ctx context.Context, addr string, o oracle.Oracle, kind string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return ServeListener(ctx, lis, o, kind)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, lis net.Listener, o oracle.Oracle, kind string) error {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterOracleServer(srv, NewServer(o, kind))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			srv.GracefulStop()
		case <-done:
		}
	}()

	monitoring.Logf("oracle server listening on %s (%d features)", lis.Addr(), len(o.Features()))
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve oracle: %w", err)
	}
	return nil
}
