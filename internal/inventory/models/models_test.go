package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	dErrors "lagerkoll/pkg/domain-errors"
)

var now = time.Date(2024, 11, 4, 8, 0, 0, 0, time.UTC)

func orderLine(t *testing.T, status PickStatus) *OrderLine {
	t.Helper()
	l, err := NewOrderLine(uuid.New(), CreateOrderLineRequest{
		OrderNumber: "ORD-100", ArticleNumber: "ART-1", Quantity: 3, PickStatus: status,
	}, now)
	require.NoError(t, err)
	return l
}

func TestOrderLineInventory(t *testing.T) {
	t.Run("picked line can be inventoried once", func(t *testing.T) {
		l := orderLine(t, PickStatusPicked)
		user := uuid.New()

		require.NoError(t, l.ApplyInventoried(user, now.Add(time.Minute)))
		assert.True(t, l.Inventoried)
		assert.Equal(t, user, *l.InventoriedBy)
		assert.Equal(t, now.Add(time.Minute), *l.InventoriedAt)

		err := l.ApplyInventoried(user, now.Add(2*time.Minute))
		assert.True(t, dErrors.Is(err, dErrors.CodeConflict))
		assert.Equal(t, now.Add(time.Minute), *l.InventoriedAt)
	})

	t.Run("unpicked line is a business rule violation and stays unchanged", func(t *testing.T) {
		l := orderLine(t, PickStatusNotPicked)
		before := *l

		err := l.ApplyInventoried(uuid.New(), now)
		assert.True(t, dErrors.Is(err, dErrors.CodeBusinessRule))
		assert.Contains(t, dErrors.MessageOf(err), "Plockat")
		assert.Equal(t, before, *l)
	})

	t.Run("unattributed caller leaves inventoriedBy empty", func(t *testing.T) {
		l := orderLine(t, PickStatusPicked)
		require.NoError(t, l.ApplyInventoried(uuid.Nil, now))
		assert.Nil(t, l.InventoriedBy)
	})
}

func TestParsePickStatus(t *testing.T) {
	for in, want := range map[string]PickStatus{
		"Plockat":    PickStatusPicked,
		" plockat ":  PickStatusPicked,
		"EJ PLOCKAT": PickStatusNotPicked,
		"":           PickStatusNotPicked,
	} {
		got, err := ParsePickStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePickStatus("picked")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestCreateOrderLineRequestDefaultsToNotPicked(t *testing.T) {
	req := CreateOrderLineRequest{OrderNumber: " ORD-1 ", ArticleNumber: "ART-1", Quantity: 1}
	req.Normalize()
	require.NoError(t, req.Validate())
	assert.Equal(t, PickStatusNotPicked, req.PickStatus)
	assert.Equal(t, "ORD-1", req.OrderNumber)
}

func TestArticleUpdateKeepsInvariants(t *testing.T) {
	a, err := NewArticle(uuid.New(), " ART-1 ", "Skruv M6", "A-01", now)
	require.NoError(t, err)
	assert.Equal(t, "ART-1", a.ArticleNumber)

	empty := ""
	req := UpdateArticleRequest{ArticleNumber: &empty}
	assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))

	loc := "B-07"
	req = UpdateArticleRequest{Location: &loc}
	require.NoError(t, req.Apply(a, now.Add(time.Hour)))
	assert.Equal(t, "B-07", a.Location)
	assert.Equal(t, now.Add(time.Hour), a.UpdatedAt)
}

func TestInventoryCountRequests(t *testing.T) {
	t.Run("count is required", func(t *testing.T) {
		req := CreateInventoryCountRequest{ArticleID: uuid.New()}
		assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
	})

	t.Run("zero is a valid count", func(t *testing.T) {
		zero := 0
		req := CreateInventoryCountRequest{ArticleID: uuid.New(), Count: &zero}
		assert.NoError(t, req.Validate())
	})

	t.Run("non-negative counts always construct", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			n := rapid.IntRange(0, 1_000_000).Draw(t, "count")
			c, err := NewInventoryCount(uuid.New(), uuid.New(), uuid.Nil, n, "", now)
			if err != nil {
				t.Fatalf("count %d rejected: %v", n, err)
			}
			if c.UserID != nil {
				t.Fatalf("nil user should not be stored")
			}
		})
	})

	t.Run("negative counts never construct", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			n := rapid.IntRange(-1_000_000, -1).Draw(t, "count")
			if _, err := NewInventoryCount(uuid.New(), uuid.New(), uuid.Nil, n, "", now); err == nil {
				t.Fatalf("count %d accepted", n)
			}
		})
	})
}
