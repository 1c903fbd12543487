package remote

import (
	"context"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bathy.ensemble/internal/features"
	"github.com/banshee-data/bathy.ensemble/internal/labels"
	"github.com/banshee-data/bathy.ensemble/internal/oracle"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 2 * time.Minute

// maxMsgSize allows large granules in a single request.
const maxMsgSize = 256 * 1024 * 1024

// Client is an Oracle backed by a remote service. The feature contract is
// fetched once at dial time.
type Client struct {
	conn     *grpc.ClientConn
	contract features.Contract
	kind     string
	Timeout  time.Duration
}

var _ oracle.Oracle = (*Client)(nil)

// Dial connects to target and fetches the model description. Extra options
// are appended to the defaults (insecure transport, large messages).
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to oracle %s: %w", target, err)
	}

	c := &Client{conn: conn, Timeout: DefaultTimeout}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, describeMethod, &structpb.Struct{}, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("describe oracle %s: %w", target, err)
	}
	for i, v := range resp.GetFields()["features"].GetListValue().GetValues() {
		name := v.GetStringValue()
		if name == "" {
			conn.Close()
			return nil, fmt.Errorf("oracle %s: feature %d has no name", target, i)
		}
		c.contract = append(c.contract, name)
	}
	if len(c.contract) == 0 {
		conn.Close()
		return nil, fmt.Errorf("oracle %s reported no features", target)
	}
	c.kind = resp.GetFields()["kind"].GetStringValue()
	return c, nil
}

// Loader dials remote oracles for oracle.Resolver.
type Loader struct {
	Options []grpc.DialOption
}

// Load implements oracle.Loader.
func (l Loader) Load(addr string) (oracle.Oracle, error) {
	return Dial(context.Background(), addr, l.Options...)
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Kind is the model kind reported by the server.
func (c *Client) Kind() string { return c.kind }

// Features returns the remote model's contract.
func (c *Client) Features() features.Contract {
	return append(features.Contract(nil), c.contract...)
}

// Predict implements oracle.Oracle.
func (c *Client) Predict(x mat.Matrix) ([]labels.Class, error) {
	vals, err := c.predict(x, ModeLabels)
	if err != nil {
		return nil, err
	}
	out := make([]labels.Class, len(vals))
	for i, v := range vals {
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: non-integral class %g at row %d", oracle.ErrInvalidPrediction, v, i)
		}
		out[i] = labels.Class(v)
	}
	return out, nil
}

// PredictProbability implements oracle.Oracle.
func (c *Client) PredictProbability(x mat.Matrix) ([]float64, error) {
	return c.predict(x, ModeProbability)
}

func (c *Client) predict(x mat.Matrix, mode string) ([]float64, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(context.Background(), predictMethod, encodeMatrix(x, mode), resp); err != nil {
		return nil, fmt.Errorf("remote predict: %w", err)
	}
	vals, err := floatList(resp.GetFields()["values"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrInvalidPrediction, err)
	}
	if rows, _ := x.Dims(); len(vals) != rows {
		return nil, fmt.Errorf("%w: %d values for %d rows", oracle.ErrInvalidPrediction, len(vals), rows)
	}
	return vals, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, method, req, resp)
}
