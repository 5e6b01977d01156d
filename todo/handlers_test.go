package todo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glycerine/amqrpc"
	cv "github.com/glycerine/goconvey/convey"
)

// startRig stands up broker, worker, and client in-process.
func startRig(t *testing.T) *amqrpc.Client {
	cfg := amqrpc.NewConfig()
	cfg.RequestTimeout = 10 * time.Second
	cfg.NetworkRecoveryInterval = 10 * time.Millisecond
	cfg.SweepInterval = time.Hour
	cfg.SweepGrace = time.Hour

	broker := amqrpc.NewSimBroker()
	store, err := OpenStore(filepath.Join(t.TempDir(), "todo.db"))
	if err != nil {
		t.Fatal(err)
	}
	srv := amqrpc.NewServer(cfg, broker)
	if err := RegisterAll(srv, NewService(store)); err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	cli := amqrpc.NewClient(cfg, broker)
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
		store.Close()
		broker.Close()
	})
	return cli
}

func Test110_create_then_get_user_over_the_wire(t *testing.T) {

	cv.Convey("CreateUser followed by GetUser should round trip the stored user", t, func() {
		cli := startRig(t)
		ctx := context.Background()

		created, err := CreateUser(ctx, cli, &CreateUserRequest{Name: "Ada", Email: "ada@example.com"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(created.OK(), cv.ShouldBeTrue)
		cv.So(created.User.ID, cv.ShouldNotBeEmpty)

		got, err := GetUser(ctx, cli, &GetUserRequest{ID: created.User.ID})
		cv.So(err, cv.ShouldBeNil)
		cv.So(got.OK(), cv.ShouldBeTrue)
		cv.So(got.User.Name, cv.ShouldEqual, "Ada")
		cv.So(got.User.Email, cv.ShouldEqual, "ada@example.com")

		name := "Ada Lovelace"
		upd, err := UpdateUser(ctx, cli, &UpdateUserRequest{ID: created.User.ID, Name: &name})
		cv.So(err, cv.ShouldBeNil)
		cv.So(upd.OK(), cv.ShouldBeTrue)
		cv.So(upd.User.Name, cv.ShouldEqual, name)
	})
}

func Test111_domain_errors_arrive_as_failure_responses(t *testing.T) {

	cv.Convey("a missing user or duplicate email should come back isSuccess=false", t, func() {
		cli := startRig(t)
		ctx := context.Background()

		got, err := GetUser(ctx, cli, &GetUserRequest{ID: "no-such-id"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(got.OK(), cv.ShouldBeFalse)
		cv.So(got.ErrMsg(), cv.ShouldContainSubstring, "not found")

		_, err = CreateUser(ctx, cli, &CreateUserRequest{Name: "Ada", Email: "dup@example.com"})
		cv.So(err, cv.ShouldBeNil)
		again, err := CreateUser(ctx, cli, &CreateUserRequest{Name: "Ada 2", Email: "dup@example.com"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(again.OK(), cv.ShouldBeFalse)
		cv.So(again.ErrMsg(), cv.ShouldContainSubstring, "already exists")
	})
}

func Test112_item_crud_over_the_wire(t *testing.T) {

	cv.Convey("the item operations should work end to end", t, func() {
		cli := startRig(t)
		ctx := context.Background()

		user, err := CreateUser(ctx, cli, &CreateUserRequest{Name: "Grace", Email: "grace@example.com"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(user.OK(), cv.ShouldBeTrue)

		item, err := CreateItem(ctx, cli, &CreateItemRequest{UserID: user.User.ID, Title: "ship it"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(item.OK(), cv.ShouldBeTrue)
		cv.So(item.Item.Title, cv.ShouldEqual, "ship it")

		done := true
		upd, err := UpdateItem(ctx, cli, &UpdateItemRequest{ID: item.Item.ID, Done: &done})
		cv.So(err, cv.ShouldBeNil)
		cv.So(upd.OK(), cv.ShouldBeTrue)
		cv.So(upd.Item.Done, cv.ShouldBeTrue)

		list, err := ListItems(ctx, cli, &ListItemsRequest{UserID: user.User.ID})
		cv.So(err, cv.ShouldBeNil)
		cv.So(list.OK(), cv.ShouldBeTrue)
		cv.So(len(list.Items), cv.ShouldEqual, 1)

		del, err := DeleteItem(ctx, cli, &DeleteItemRequest{ID: item.Item.ID})
		cv.So(err, cv.ShouldBeNil)
		cv.So(del.OK(), cv.ShouldBeTrue)

		list, err = ListItems(ctx, cli, &ListItemsRequest{UserID: user.User.ID})
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(list.Items), cv.ShouldEqual, 0)
	})
}
