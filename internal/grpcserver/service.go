package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "courtbook.v1.BookingService"

// Full method names of BookingService.
const (
	MethodGenerateSlots = "/" + serviceName + "/GenerateSlots"
	MethodListSlots     = "/" + serviceName + "/ListSlots"
	MethodBook          = "/" + serviceName + "/Book"
	MethodCancel        = "/" + serviceName + "/Cancel"
	MethodCancelSlot    = "/" + serviceName + "/CancelSlot"
	MethodListBookings  = "/" + serviceName + "/ListBookings"
	MethodGetBalance    = "/" + serviceName + "/GetBalance"
	MethodListEntries   = "/" + serviceName + "/ListEntries"
	MethodGrant         = "/" + serviceName + "/Grant"
)

// BookingServiceServer is the server API of BookingService.
type BookingServiceServer interface {
	GenerateSlots(context.Context, *GenerateSlotsRequest) (*GenerateSlotsResponse, error)
	ListSlots(context.Context, *ListSlotsRequest) (*ListSlotsResponse, error)
	Book(context.Context, *BookRequest) (*BookResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	CancelSlot(context.Context, *CancelSlotRequest) (*CancelSlotResponse, error)
	ListBookings(context.Context, *ListBookingsRequest) (*ListBookingsResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*Balance, error)
	ListEntries(context.Context, *ListEntriesRequest) (*ListEntriesResponse, error)
	Grant(context.Context, *GrantRequest) (*Empty, error)
	mustEmbedUnimplementedBookingServiceServer()
}

// UnimplementedBookingServiceServer answers every call with codes.Unimplemented.
type UnimplementedBookingServiceServer struct{}

func (UnimplementedBookingServiceServer) GenerateSlots(context.Context, *GenerateSlotsRequest) (*GenerateSlotsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GenerateSlots not implemented")
}
func (UnimplementedBookingServiceServer) ListSlots(context.Context, *ListSlotsRequest) (*ListSlotsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSlots not implemented")
}
func (UnimplementedBookingServiceServer) Book(context.Context, *BookRequest) (*BookResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Book not implemented")
}
func (UnimplementedBookingServiceServer) Cancel(context.Context, *CancelRequest) (*CancelResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Cancel not implemented")
}
func (UnimplementedBookingServiceServer) CancelSlot(context.Context, *CancelSlotRequest) (*CancelSlotResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelSlot not implemented")
}
func (UnimplementedBookingServiceServer) ListBookings(context.Context, *ListBookingsRequest) (*ListBookingsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListBookings not implemented")
}
func (UnimplementedBookingServiceServer) GetBalance(context.Context, *BalanceRequest) (*Balance, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}
func (UnimplementedBookingServiceServer) ListEntries(context.Context, *ListEntriesRequest) (*ListEntriesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListEntries not implemented")
}
func (UnimplementedBookingServiceServer) Grant(context.Context, *GrantRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Grant not implemented")
}
func (UnimplementedBookingServiceServer) mustEmbedUnimplementedBookingServiceServer() {}

// RegisterBookingServiceServer attaches server to registrar.
func RegisterBookingServiceServer(registrar grpc.ServiceRegistrar, server BookingServiceServer) {
	registrar.RegisterService(&BookingServiceDesc, server)
}

// unaryHandler adapts a typed method to grpc.MethodDesc, honouring interceptors.
func unaryHandler[Request any, Response any](fullMethod string, call func(BookingServiceServer, context.Context, *Request) (*Response, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		typed := server.(BookingServiceServer)
		if interceptor == nil {
			return call(typed, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(typed, ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}

// BookingServiceDesc describes BookingService for grpc.Server.
var BookingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GenerateSlots", Handler: unaryHandler(MethodGenerateSlots, BookingServiceServer.GenerateSlots)},
		{MethodName: "ListSlots", Handler: unaryHandler(MethodListSlots, BookingServiceServer.ListSlots)},
		{MethodName: "Book", Handler: unaryHandler(MethodBook, BookingServiceServer.Book)},
		{MethodName: "Cancel", Handler: unaryHandler(MethodCancel, BookingServiceServer.Cancel)},
		{MethodName: "CancelSlot", Handler: unaryHandler(MethodCancelSlot, BookingServiceServer.CancelSlot)},
		{MethodName: "ListBookings", Handler: unaryHandler(MethodListBookings, BookingServiceServer.ListBookings)},
		{MethodName: "GetBalance", Handler: unaryHandler(MethodGetBalance, BookingServiceServer.GetBalance)},
		{MethodName: "ListEntries", Handler: unaryHandler(MethodListEntries, BookingServiceServer.ListEntries)},
		{MethodName: "Grant", Handler: unaryHandler(MethodGrant, BookingServiceServer.Grant)},
	},
	Streams: []grpc.StreamDesc{},
}
