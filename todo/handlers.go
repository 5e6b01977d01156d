package todo

import (
	"context"

	"github.com/glycerine/amqrpc"
)

// Service dispatches the to-do operations onto a Store.
type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// RegisterAll wires every user and item operation onto srv.
// Call before srv.Start.
func RegisterAll(srv *amqrpc.Server, svc *Service) error {
	regs := []func() error{
		func() error {
			return amqrpc.RegisterFunc[CreateUserRequest, CreateUserResponse](srv, UserQueue, OpCreateUser, svc.CreateUser)
		},
		func() error {
			return amqrpc.RegisterFunc[GetUserRequest, GetUserResponse](srv, UserQueue, OpGetUser, svc.GetUser)
		},
		func() error {
			return amqrpc.RegisterFunc[ListUsersRequest, ListUsersResponse](srv, UserQueue, OpListUsers, svc.ListUsers)
		},
		func() error {
			return amqrpc.RegisterFunc[UpdateUserRequest, UpdateUserResponse](srv, UserQueue, OpUpdateUser, svc.UpdateUser)
		},
		func() error {
			return amqrpc.RegisterFunc[DeleteUserRequest, DeleteUserResponse](srv, UserQueue, OpDeleteUser, svc.DeleteUser)
		},
		func() error {
			return amqrpc.RegisterFunc[CreateItemRequest, CreateItemResponse](srv, ItemQueue, OpCreateItem, svc.CreateItem)
		},
		func() error {
			return amqrpc.RegisterFunc[GetItemRequest, GetItemResponse](srv, ItemQueue, OpGetItem, svc.GetItem)
		},
		func() error {
			return amqrpc.RegisterFunc[ListItemsRequest, ListItemsResponse](srv, ItemQueue, OpListItems, svc.ListItems)
		},
		func() error {
			return amqrpc.RegisterFunc[UpdateItemRequest, UpdateItemResponse](srv, ItemQueue, OpUpdateItem, svc.UpdateItem)
		},
		func() error {
			return amqrpc.RegisterFunc[DeleteItemRequest, DeleteItemResponse](srv, ItemQueue, OpDeleteItem, svc.DeleteItem)
		},
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, req *CreateUserRequest) (*CreateUserResponse, error) {
	u, err := s.store.CreateUser(ctx, req.Name, req.Email)
	if err != nil {
		return nil, err
	}
	return &CreateUserResponse{User: *u}, nil
}

func (s *Service) GetUser(ctx context.Context, req *GetUserRequest) (*GetUserResponse, error) {
	u, err := s.store.GetUser(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &GetUserResponse{User: *u}, nil
}

func (s *Service) ListUsers(ctx context.Context, req *ListUsersRequest) (*ListUsersResponse, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return &ListUsersResponse{Users: users}, nil
}

func (s *Service) UpdateUser(ctx context.Context, req *UpdateUserRequest) (*UpdateUserResponse, error) {
	u, err := s.store.UpdateUser(ctx, req.ID, req.Name, req.Email)
	if err != nil {
		return nil, err
	}
	return &UpdateUserResponse{User: *u}, nil
}

func (s *Service) DeleteUser(ctx context.Context, req *DeleteUserRequest) (*DeleteUserResponse, error) {
	if err := s.store.DeleteUser(ctx, req.ID); err != nil {
		return nil, err
	}
	return &DeleteUserResponse{}, nil
}

func (s *Service) CreateItem(ctx context.Context, req *CreateItemRequest) (*CreateItemResponse, error) {
	it, err := s.store.CreateItem(ctx, req.UserID, req.Title)
	if err != nil {
		return nil, err
	}
	return &CreateItemResponse{Item: *it}, nil
}

func (s *Service) GetItem(ctx context.Context, req *GetItemRequest) (*GetItemResponse, error) {
	it, err := s.store.GetItem(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &GetItemResponse{Item: *it}, nil
}

func (s *Service) ListItems(ctx context.Context, req *ListItemsRequest) (*ListItemsResponse, error) {
	items, err := s.store.ListItems(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &ListItemsResponse{Items: items}, nil
}

func (s *Service) UpdateItem(ctx context.Context, req *UpdateItemRequest) (*UpdateItemResponse, error) {
	it, err := s.store.UpdateItem(ctx, req.ID, req.Title, req.Done)
	if err != nil {
		return nil, err
	}
	return &UpdateItemResponse{Item: *it}, nil
}

func (s *Service) DeleteItem(ctx context.Context, req *DeleteItemRequest) (*DeleteItemResponse, error) {
	if err := s.store.DeleteItem(ctx, req.ID); err != nil {
		return nil, err
	}
	return &DeleteItemResponse{}, nil
}
