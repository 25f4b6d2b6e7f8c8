package record_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"prodsync/apps/backend/internal/record"
)

func TestPointID(t *testing.T) {
	a := record.PointID("t1", "r1")

	assert.Equal(t, a, record.PointID("t1", "r1"), "same pair must map to the same point")
	assert.NotEqual(t, a, record.PointID("t2", "r1"), "tenants must not share points")
	assert.NotEqual(t, a, record.PointID("t1", "r2"))
	assert.NotEqual(t, record.PointID("t1", "1r"), record.PointID("t11", "r"))

	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestContentID(t *testing.T) {
	f := map[string]string{"title": "Red Shoe", "price": "10"}

	assert.Equal(t, record.ContentID("t1", f), record.ContentID("t1", map[string]string{"price": "10", "title": "Red Shoe"}))
	assert.NotEqual(t, record.ContentID("t1", f), record.ContentID("t2", f))
	assert.NotEqual(t, record.ContentID("t1", f), record.ContentID("t1", map[string]string{"title": "Red Shoe", "price": "11"}))
}

func TestRandomID(t *testing.T) {
	assert.NotEqual(t, record.RandomID(), record.RandomID())
}
