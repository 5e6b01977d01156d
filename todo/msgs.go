package todo

import (
	"time"

	"github.com/glycerine/amqrpc"
)

// Operation queues. One queue per aggregate, every operation
// on that aggregate dispatched by name.
const (
	UserQueue = "user.operations"
	ItemQueue = "item.operations"
)

const (
	OpCreateUser = "CreateUser"
	OpGetUser    = "GetUser"
	OpListUsers  = "ListUsers"
	OpUpdateUser = "UpdateUser"
	OpDeleteUser = "DeleteUser"

	OpCreateItem = "CreateItem"
	OpGetItem    = "GetItem"
	OpListItems  = "ListItems"
	OpUpdateItem = "UpdateItem"
	OpDeleteItem = "DeleteItem"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type Item struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateUserRequest struct {
	amqrpc.BaseRequest
	Name  string `json:"name"`
	Email string `json:"email"`
}

type CreateUserResponse struct {
	amqrpc.BaseResponse
	User User `json:"user"`
}

type GetUserRequest struct {
	amqrpc.BaseRequest
	ID string `json:"id"`
}

type GetUserResponse struct {
	amqrpc.BaseResponse
	User User `json:"user"`
}

type ListUsersRequest struct {
	amqrpc.BaseRequest
}

type ListUsersResponse struct {
	amqrpc.BaseResponse
	Users []User `json:"users"`
}

// UpdateUserRequest: nil fields are left untouched.
type UpdateUserRequest struct {
	amqrpc.BaseRequest
	ID    string  `json:"id"`
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type UpdateUserResponse struct {
	amqrpc.BaseResponse
	User User `json:"user"`
}

type DeleteUserRequest struct {
	amqrpc.BaseRequest
	ID string `json:"id"`
}

type DeleteUserResponse struct {
	amqrpc.BaseResponse
}

type CreateItemRequest struct {
	amqrpc.BaseRequest
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

type CreateItemResponse struct {
	amqrpc.BaseResponse
	Item Item `json:"item"`
}

type GetItemRequest struct {
	amqrpc.BaseRequest
	ID string `json:"id"`
}

type GetItemResponse struct {
	amqrpc.BaseResponse
	Item Item `json:"item"`
}

type ListItemsRequest struct {
	amqrpc.BaseRequest
	UserID string `json:"userId"`
}

type ListItemsResponse struct {
	amqrpc.BaseResponse
	Items []Item `json:"items"`
}

// UpdateItemRequest: nil fields are left untouched.
type UpdateItemRequest struct {
	amqrpc.BaseRequest
	ID    string  `json:"id"`
	Title *string `json:"title,omitempty"`
	Done  *bool   `json:"done,omitempty"`
}

type UpdateItemResponse struct {
	amqrpc.BaseResponse
	Item Item `json:"item"`
}

type DeleteItemRequest struct {
	amqrpc.BaseRequest
	ID string `json:"id"`
}

type DeleteItemResponse struct {
	amqrpc.BaseResponse
}
