package storage

import (
	"context"
	"testing"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordStore interface {
	Initialize(ctx context.Context) error
	Add(ctx context.Context, rec types.Record) error
	Update(ctx context.Context, rec types.Record) error
	Remove(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (types.Record, error)
	GetAll(ctx context.Context) ([]types.Record, error)
	Close() error
}

type sessionStore interface {
	Load(ctx context.Context) (types.Session, bool, error)
	Save(ctx context.Context, session types.Session) error
	Clear(ctx context.Context) error
}

func employee(id int64, name, email string) types.Record {
	return types.Record{
		ID: id, Kind: types.KindEmployee, Name: name, Email: email,
		Status: types.StatusActive, Joined: "2024-01-02", Currency: types.USD,
		Employee: &types.EmployeeFields{Position: "Engineer", Department: "R&D", Salary: 1000},
	}
}

func project(id int64, name string) types.Record {
	return types.Record{
		ID: id, Kind: types.KindProject, Name: name,
		Status: types.StatusOnBench, Currency: types.INR,
		Project: &types.ProjectFields{Rate: 80, Margin: 12, EndClient: "Initech", Completed: true},
	}
}

// testRecordStore runs the behaviour every record store backend shares.
func testRecordStore(t *testing.T, open func(t *testing.T) recordStore) {
	ctx := context.Background()

	newStore := func(t *testing.T) recordStore {
		t.Helper()
		s := open(t)
		require.NoError(t, s.Initialize(ctx))
		require.NoError(t, s.Initialize(ctx), "Initialize must be idempotent")
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("add and get", func(t *testing.T) {
		s := newStore(t)
		rec := project(5, "Priya")
		require.NoError(t, s.Add(ctx, rec))

		got, err := s.Get(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, 42)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))
		err := s.Add(ctx, employee(1, "Bob", "bob@example.com"))
		assert.ErrorIs(t, err, types.ErrDuplicateKey)

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Name)
	})

	t.Run("duplicate email ignores case", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))
		err := s.Add(ctx, employee(2, "Alice Two", "ALICE@Example.com"))
		assert.ErrorIs(t, err, types.ErrDuplicateKey)

		_, err = s.Get(ctx, 2)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("records without email do not collide", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, project(1, "One")))
		require.NoError(t, s.Add(ctx, project(2, "Two")))
	})

	t.Run("update replaces record", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))

		rec := employee(1, "Alice Smith", "alice@example.com")
		rec.Employee.Salary = 2000
		require.NoError(t, s.Update(ctx, rec))

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Alice Smith", got.Name)
		assert.Equal(t, 2000.0, got.Amount())
	})

	t.Run("update unknown id", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, employee(9, "Ghost", "ghost@example.com"))
		assert.ErrorIs(t, err, types.ErrNotFound)

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("update email conflict", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))
		require.NoError(t, s.Add(ctx, employee(2, "Bob", "bob@example.com")))

		err := s.Update(ctx, employee(2, "Bob", "Alice@example.com"))
		assert.ErrorIs(t, err, types.ErrDuplicateKey)
	})

	t.Run("update releases old email", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))
		require.NoError(t, s.Update(ctx, employee(1, "Alice", "alice@new.example.com")))

		require.NoError(t, s.Add(ctx, employee(2, "Other", "alice@example.com")))
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))

		require.NoError(t, s.Remove(ctx, 1))
		require.NoError(t, s.Remove(ctx, 1), "removing an absent id is a no-op")
		require.NoError(t, s.Remove(ctx, 77))

		_, err := s.Get(ctx, 1)
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, s.Add(ctx, employee(3, "Alice Again", "alice@example.com")))
	})

	t.Run("get all in id order", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []int64{12, 3, 7, 1} {
			require.NoError(t, s.Add(ctx, project(id, "P")))
		}

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		ids := make([]int64, 0, len(all))
		for _, r := range all {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []int64{1, 3, 7, 12}, ids)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Add(ctx, employee(1, "Alice", "alice@example.com")))

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		got.Employee.Salary = 0

		again, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1000.0, again.Amount())
	})
}

func testSessionStore(t *testing.T, s sessionStore) {
	ctx := context.Background()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := types.Session{
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
		User:      &types.User{ID: "u1", Name: "Alice", Email: "alice@example.com", Role: "admin", Status: "approved"},
	}
	require.NoError(t, s.Save(ctx, want))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Token, got.Token)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expires %v, want %v", got.ExpiresAt, want.ExpiresAt)
	assert.Equal(t, want.User, got.User)

	want.Token = "tok-2"
	require.NoError(t, s.Save(ctx, want))
	got, _, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.Token)

	// A user without an id is still a user.
	anonymous := types.Session{
		Token:     "tok-3",
		ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Second),
		User:      &types.User{Name: "Ann", Role: "admin", Status: "approved"},
	}
	require.NoError(t, s.Save(ctx, anonymous))
	got, ok, err = s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.User)
	assert.Equal(t, anonymous.User, got.User)
	assert.True(t, got.Active(time.Now()))

	require.NoError(t, s.Save(ctx, types.Session{Token: "tok-4"}))
	got, ok, err = s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.User)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
