package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashanth17/medicare-scheduling/internal/db/dbtest"
)

func TestPgDoctors_FindByID(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	withHours := dbtest.InsertDoctor(t, pool, "Meera", "Nair", "09:00", "17:30")
	noHours := dbtest.InsertDoctor(t, pool, "Rahul", "Johnson", "", "")
	doctors := NewPgDoctors(pool)

	d, err := doctors.FindByID(ctx, withHours)
	require.NoError(t, err)
	assert.Equal(t, "Meera", d.User.FirstName)
	require.NotNil(t, d.ServiceHours)
	assert.Equal(t, 9*time.Hour, d.ServiceHours.Start)
	assert.Equal(t, 17*time.Hour+30*time.Minute, d.ServiceHours.End)

	d, err = doctors.FindByID(ctx, noHours)
	require.NoError(t, err)
	assert.Nil(t, d.ServiceHours)

	_, err = doctors.FindByID(ctx, noHours+1000)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPgDoctors_SearchByNameSubstring(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	first := dbtest.InsertDoctor(t, pool, "John", "Smith", "", "")
	second := dbtest.InsertDoctor(t, pool, "Anna", "Smithson", "", "")
	dbtest.InsertDoctor(t, pool, "Percy", "100%_Well", "", "")
	doctors := NewPgDoctors(pool)

	found, err := doctors.SearchByNameSubstring(ctx, "  SMITH ")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, first, found[0].ID, "ordered by doctor id")
	assert.Equal(t, second, found[1].ID)

	for i := 0; i < 3; i++ {
		again, err := doctors.SearchByNameSubstring(ctx, "smith")
		require.NoError(t, err)
		assert.Equal(t, first, again[0].ID)
	}

	// LIKE wildcards in the query are literal characters
	found, err = doctors.SearchByNameSubstring(ctx, "%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "100%_Well", found[0].User.LastName)

	found, err = doctors.SearchByNameSubstring(ctx, "h_s")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = doctors.SearchByNameSubstring(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestPgUsers_Lookups(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	older := dbtest.InsertUser(t, pool, "patient7", "Pat", "Seven", "+919876543210")
	dbtest.InsertUser(t, pool, "patient7b", "Pat", "Again", "+919876543210")
	users := NewPgUsers(pool)

	u, err := users.FindByID(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, "patient7", u.Username)

	u, err = users.FindByPhone(ctx, NormalizePhone("+91 98765-43210"))
	require.NoError(t, err)
	assert.Equal(t, older, u.ID, "oldest account wins")

	_, err = users.FindByPhone(ctx, "+10000000000")
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = users.FindByPhone(ctx, "")
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = users.FindByID(ctx, older+1000)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}
