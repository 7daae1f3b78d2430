package oracle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName       = "simtrade.oracle.v1.PriceOracle"
	getPricesMethod   = "/" + serviceName + "/GetPrices"
	defaultRPCTimeout = 2 * time.Second
)

// PriceServer answers GetPrices. The request carries "symbols" (list) and
// "quote"; the response carries "prices" mapping symbol to a decimal string.
type PriceServer interface {
	GetPrices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc registers a PriceServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PriceServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetPrices",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(PriceServer).GetPrices(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getPricesMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return srv.(PriceServer).GetPrices(ctx, req.(*structpb.Struct))
			})
		},
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oracle.proto",
}

// GRPC asks a remote price service over gRPC.
type GRPC struct {
	conn    *grpc.ClientConn
	quote   string
	timeout time.Duration
}

// DialGRPC connects to a price service at addr.
func DialGRPC(addr, quote string, timeout time.Duration, opts ...grpc.DialOption) (*GRPC, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial price oracle %s", addr)
	}
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &GRPC{conn: conn, quote: quote, timeout: timeout}, nil
}

// Name identifies the oracle in movement logs.
func (g *GRPC) Name() string { return "grpc" }

// Prices fetches one batch of prices.
func (g *GRPC) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	list := make([]any, len(symbols))
	for i, s := range symbols {
		list[i] = s
	}
	req, err := structpb.NewStruct(map[string]any{"symbols": list, "quote": g.quote})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, getPricesMethod, req, resp); err != nil {
		return nil, errors.Wrap(err, "price oracle GetPrices")
	}

	prices := resp.GetFields()["prices"].GetStructValue().GetFields()
	out := make(map[string]decimal.Decimal, len(prices))
	for sym, v := range prices {
		p, err := parseValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "price for %s", sym)
		}
		if p.IsPositive() {
			out[sym] = p
		}
	}
	return out, nil
}

func parseValue(v *structpb.Value) (decimal.Decimal, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return decimal.NewFromString(k.StringValue)
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported value %T", k)
	}
}

// Close releases the connection.
func (g *GRPC) Close() error {
	return g.conn.Close()
}
