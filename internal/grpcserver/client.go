package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
)

// Client calls BookingService over an established connection.
type Client struct {
	conn        grpc.ClientConnInterface
	retryPolicy booking.RetryPolicy
}

// NewClient wraps conn. Book and Cancel are retried while the server reports Aborted.
func NewClient(conn grpc.ClientConnInterface) *Client {
	policy := booking.DefaultRetryPolicy()
	policy.Retryable = func(err error) bool {
		return status.Code(err) == codes.Aborted
	}
	return &Client{conn: conn, retryPolicy: policy}
}

// Dial connects to address and blocks until the connection is ready or ctx ends.
func Dial(ctx context.Context, address string, useInsecure bool) (*Client, *grpc.ClientConn, error) {
	dialOptions := []grpc.DialOption{}
	if useInsecure {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect booking service: %w", err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("connect booking service: %w", err)
	}
	return NewClient(conn), conn, nil
}

func (client *Client) invoke(ctx context.Context, method string, request any, response any) error {
	return client.conn.Invoke(ctx, method, request, response, grpc.CallContentSubtype(CodecName))
}

func (client *Client) GenerateSlots(ctx context.Context, request *GenerateSlotsRequest) (*GenerateSlotsResponse, error) {
	response := &GenerateSlotsResponse{}
	if err := client.invoke(ctx, MethodGenerateSlots, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) ListSlots(ctx context.Context, request *ListSlotsRequest) (*ListSlotsResponse, error) {
	response := &ListSlotsResponse{}
	if err := client.invoke(ctx, MethodListSlots, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Book(ctx context.Context, request *BookRequest) (*BookResponse, error) {
	var response *BookResponse
	err := booking.Retry(ctx, client.retryPolicy, func(ctx context.Context) error {
		attempt := &BookResponse{}
		if err := client.invoke(ctx, MethodBook, request, attempt); err != nil {
			return err
		}
		response = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Cancel(ctx context.Context, request *CancelRequest) (*CancelResponse, error) {
	var response *CancelResponse
	err := booking.Retry(ctx, client.retryPolicy, func(ctx context.Context) error {
		attempt := &CancelResponse{}
		if err := client.invoke(ctx, MethodCancel, request, attempt); err != nil {
			return err
		}
		response = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) CancelSlot(ctx context.Context, request *CancelSlotRequest) (*CancelSlotResponse, error) {
	response := &CancelSlotResponse{}
	if err := client.invoke(ctx, MethodCancelSlot, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) ListBookings(ctx context.Context, request *ListBookingsRequest) (*ListBookingsResponse, error) {
	response := &ListBookingsResponse{}
	if err := client.invoke(ctx, MethodListBookings, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetBalance(ctx context.Context, request *BalanceRequest) (*Balance, error) {
	response := &Balance{}
	if err := client.invoke(ctx, MethodGetBalance, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Grant(ctx context.Context, request *GrantRequest) error {
	return client.invoke(ctx, MethodGrant, request, &Empty{})
}

func (client *Client) ListEntries(ctx context.Context, request *ListEntriesRequest) (*ListEntriesResponse, error) {
	response := &ListEntriesResponse{}
	if err := client.invoke(ctx, MethodListEntries, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
