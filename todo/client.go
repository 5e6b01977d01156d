package todo

import (
	"context"

	"github.com/glycerine/amqrpc"
)

// Typed client-side calls. Each is one round trip; transport
// timeouts come back as a failure response, not an error.

func CreateUser(ctx context.Context, c *amqrpc.Client, req *CreateUserRequest) (*CreateUserResponse, error) {
	return amqrpc.SendRequest[CreateUserResponse](ctx, c, UserQueue, OpCreateUser, req)
}

func GetUser(ctx context.Context, c *amqrpc.Client, req *GetUserRequest) (*GetUserResponse, error) {
	return amqrpc.SendRequest[GetUserResponse](ctx, c, UserQueue, OpGetUser, req)
}

func ListUsers(ctx context.Context, c *amqrpc.Client, req *ListUsersRequest) (*ListUsersResponse, error) {
	return amqrpc.SendRequest[ListUsersResponse](ctx, c, UserQueue, OpListUsers, req)
}

func UpdateUser(ctx context.Context, c *amqrpc.Client, req *UpdateUserRequest) (*UpdateUserResponse, error) {
	return amqrpc.SendRequest[UpdateUserResponse](ctx, c, UserQueue, OpUpdateUser, req)
}

func DeleteUser(ctx context.Context, c *amqrpc.Client, req *DeleteUserRequest) (*DeleteUserResponse, error) {
	return amqrpc.SendRequest[DeleteUserResponse](ctx, c, UserQueue, OpDeleteUser, req)
}

func CreateItem(ctx context.Context, c *amqrpc.Client, req *CreateItemRequest) (*CreateItemResponse, error) {
	return amqrpc.SendRequest[CreateItemResponse](ctx, c, ItemQueue, OpCreateItem, req)
}

func GetItem(ctx context.Context, c *amqrpc.Client, req *GetItemRequest) (*GetItemResponse, error) {
	return amqrpc.SendRequest[GetItemResponse](ctx, c, ItemQueue, OpGetItem, req)
}

func ListItems(ctx context.Context, c *amqrpc.Client, req *ListItemsRequest) (*ListItemsResponse, error) {
	return amqrpc.SendRequest[ListItemsResponse](ctx, c, ItemQueue, OpListItems, req)
}

func UpdateItem(ctx context.Context, c *amqrpc.Client, req *UpdateItemRequest) (*UpdateItemResponse, error) {
	return amqrpc.SendRequest[UpdateItemResponse](ctx, c, ItemQueue, OpUpdateItem, req)
}

func DeleteItem(ctx context.Context, c *amqrpc.Client, req *DeleteItemRequest) (*DeleteItemResponse, error) {
	return amqrpc.SendRequest[DeleteItemResponse](ctx, c, ItemQueue, OpDeleteItem, req)
}
