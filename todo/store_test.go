package todo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func openTestStore(t *testing.T) *Store {
	s, err := OpenStore(filepath.Join(t.TempDir(), "todo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func Test100_user_lifecycle(t *testing.T) {

	cv.Convey("users should create, read, list, and delete", t, func() {
		s := openTestStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, "Ada", "ada@example.com")
		cv.So(err, cv.ShouldBeNil)
		cv.So(u.ID, cv.ShouldNotBeEmpty)

		got, err := s.GetUser(ctx, u.ID)
		cv.So(err, cv.ShouldBeNil)
		cv.So(got.Email, cv.ShouldEqual, "ada@example.com")

		_, err = s.CreateUser(ctx, "Ada Again", "ada@example.com")
		cv.So(errors.Is(err, ErrAlreadyExists), cv.ShouldBeTrue)

		name := "Countess Ada"
		upd, err := s.UpdateUser(ctx, u.ID, &name, nil)
		cv.So(err, cv.ShouldBeNil)
		cv.So(upd.Name, cv.ShouldEqual, name)
		cv.So(upd.Email, cv.ShouldEqual, "ada@example.com")

		_, err = s.CreateUser(ctx, "Grace", "grace@example.com")
		cv.So(err, cv.ShouldBeNil)

		// updating onto a taken email is refused.
		taken := "grace@example.com"
		_, err = s.UpdateUser(ctx, u.ID, nil, &taken)
		cv.So(errors.Is(err, ErrAlreadyExists), cv.ShouldBeTrue)

		users, err := s.ListUsers(ctx)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(users), cv.ShouldEqual, 2)

		err = s.DeleteUser(ctx, u.ID)
		cv.So(err, cv.ShouldBeNil)
		_, err = s.GetUser(ctx, u.ID)
		cv.So(errors.Is(err, ErrNotFound), cv.ShouldBeTrue)

		err = s.DeleteUser(ctx, u.ID)
		cv.So(errors.Is(err, ErrNotFound), cv.ShouldBeTrue)
	})
}

func Test101_item_lifecycle_with_soft_delete(t *testing.T) {

	cv.Convey("items should create, update, list, and soft-delete", t, func() {
		s := openTestStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, "Ada", "ada@example.com")
		cv.So(err, cv.ShouldBeNil)

		_, err = s.CreateItem(ctx, "no-such-user", "never happens")
		cv.So(errors.Is(err, ErrNotFound), cv.ShouldBeTrue)

		it, err := s.CreateItem(ctx, u.ID, "write the tests")
		cv.So(err, cv.ShouldBeNil)
		cv.So(it.Done, cv.ShouldBeFalse)

		done := true
		title := "write better tests"
		it2, err := s.UpdateItem(ctx, it.ID, &title, &done)
		cv.So(err, cv.ShouldBeNil)
		cv.So(it2.Title, cv.ShouldEqual, title)
		cv.So(it2.Done, cv.ShouldBeTrue)
		cv.So(it2.UpdatedAt.Before(it.UpdatedAt), cv.ShouldBeFalse)

		// partial update leaves the other field alone.
		notDone := false
		it3, err := s.UpdateItem(ctx, it.ID, nil, &notDone)
		cv.So(err, cv.ShouldBeNil)
		cv.So(it3.Title, cv.ShouldEqual, title)
		cv.So(it3.Done, cv.ShouldBeFalse)

		other, err := s.CreateItem(ctx, u.ID, "another")
		cv.So(err, cv.ShouldBeNil)
		items, err := s.ListItems(ctx, u.ID)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(items), cv.ShouldEqual, 2)

		err = s.DeleteItem(ctx, other.ID)
		cv.So(err, cv.ShouldBeNil)
		items, err = s.ListItems(ctx, u.ID)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(items), cv.ShouldEqual, 1)

		_, err = s.GetItem(ctx, other.ID)
		cv.So(errors.Is(err, ErrNotFound), cv.ShouldBeTrue)
		err = s.DeleteItem(ctx, other.ID)
		cv.So(errors.Is(err, ErrNotFound), cv.ShouldBeTrue)
	})
}
