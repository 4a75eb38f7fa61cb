package service

import (
	"context"
	"sync"
	"testing"

	catalogModel "storefront/internal/domain/catalog/model"
	catalogRepo "storefront/internal/domain/catalog/repository"
	"storefront/internal/domain/order/model"
	"storefront/internal/domain/order/repository"
	"storefront/internal/pkg/testutil"
	"storefront/pkg/apperr"
	"storefront/pkg/metrics"
	"storefront/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db  *gorm.DB
	svc OrderService
}

func setup(t *testing.T) *fixture {
	db := testutil.NewDB(t, &catalogModel.Product{}, &model.Order{}, &model.OrderItem{})
	svc := NewOrderService(db, repository.NewOrderRepository(db), catalogRepo.NewProductRepository(db),
		nil, "CNY", metrics.NewMetricsCollector(prometheus.NewRegistry()))
	return &fixture{db: db, svc: svc}
}

func (f *fixture) product(t *testing.T, sku, price string, stock int) *catalogModel.Product {
	p := &catalogModel.Product{SKU: sku, Name: sku, Price: decimal.RequireFromString(price), Stock: stock, Active: true}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) stock(t *testing.T, id string) int {
	var p catalogModel.Product
	require.NoError(t, f.db.First(&p, "id = ?", id).Error)
	return p.Stock
}

var guest = CustomerInfo{Name: "Guest", Email: "guest@example.com"}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Total computed from catalog prices", func(t *testing.T) {
		f := setup(t)
		a := f.product(t, "A", "100.00", 5)
		b := f.product(t, "B", "25.00", 5)

		order, err := f.svc.CreateOrder(ctx, CreateOrderInput{
			Items:    []ItemInput{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 2}},
			Customer: guest,
		}, nil)

		require.NoError(t, err)
		assert.True(t, order.Total.Equal(decimal.RequireFromString("150.00")), order.Total.String())
		assert.Equal(t, model.StatusPending, order.Status)
		assert.Equal(t, "CNY", order.Currency)
		assert.True(t, order.IsGuest())
		assert.Len(t, order.Items, 2)
		assert.Equal(t, 4, f.stock(t, a.ID))
		assert.Equal(t, 3, f.stock(t, b.ID))
	})

	t.Run("Duplicate lines are merged", func(t *testing.T) {
		f := setup(t)
		a := f.product(t, "A", "10.00", 5)
		user := "8b0e8f4e-8b7a-4a0c-9a57-1f3f6f0a0001"

		order, err := f.svc.CreateOrder(ctx, CreateOrderInput{
			Items: []ItemInput{{ProductID: a.ID, Quantity: 1}, {ProductID: a.ID, Quantity: 2}},
		}, &user)

		require.NoError(t, err)
		require.Len(t, order.Items, 1)
		assert.Equal(t, 3, order.Items[0].Quantity)
		assert.True(t, order.Total.Equal(decimal.NewFromInt(30)))
		assert.True(t, order.OwnedBy(user))
	})

	t.Run("Validation failures", func(t *testing.T) {
		f := setup(t)
		a := f.product(t, "A", "10.00", 1)
		inactive := f.product(t, "B", "10.00", 10)
		require.NoError(t, f.db.Model(inactive).Update("active", false).Error)

		cases := map[string]CreateOrderInput{
			"empty":         {Customer: guest},
			"zero quantity": {Items: []ItemInput{{ProductID: a.ID, Quantity: 0}}, Customer: guest},
			"unknown":       {Items: []ItemInput{{ProductID: "missing", Quantity: 1}}, Customer: guest},
			"inactive":      {Items: []ItemInput{{ProductID: inactive.ID, Quantity: 1}}, Customer: guest},
			"out of stock":  {Items: []ItemInput{{ProductID: a.ID, Quantity: 2}}, Customer: guest},
			"guest contact": {Items: []ItemInput{{ProductID: a.ID, Quantity: 1}}, Customer: CustomerInfo{Name: "x"}},
		}
		for name, input := range cases {
			_, err := f.svc.CreateOrder(ctx, input, nil)
			assert.ErrorIs(t, err, apperr.ErrValidation, name)
		}

		var count int64
		f.db.Model(&model.Order{}).Count(&count)
		assert.Zero(t, count)
		assert.Equal(t, 1, f.stock(t, a.ID))
	})

	t.Run("Concurrent checkouts never oversell", func(t *testing.T) {
		f := setup(t)
		a := f.product(t, "A", "10.00", 3)

		var wg sync.WaitGroup
		var mu sync.Mutex
		success := 0
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.CreateOrder(ctx, CreateOrderInput{
					Items:    []ItemInput{{ProductID: a.ID, Quantity: 1}},
					Customer: guest,
				}, nil)
				if err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, success)
		assert.Equal(t, 0, f.stock(t, a.ID))
	})
}

func TestTransitionStatus(t *testing.T) {
	ctx := context.Background()

	newOrder := func(t *testing.T, f *fixture) (*model.Order, *catalogModel.Product) {
		p := f.product(t, "A", "50.00", 10)
		o, err := f.svc.CreateOrder(ctx, CreateOrderInput{
			Items:    []ItemInput{{ProductID: p.ID, Quantity: 2}},
			Customer: guest,
		}, nil)
		require.NoError(t, err)
		return o, p
	}

	t.Run("Walks the chain", func(t *testing.T) {
		f := setup(t)
		o, _ := newOrder(t, f)

		for _, to := range []string{model.StatusPaid, model.StatusConfirmed, model.StatusShipped, model.StatusDelivered} {
			updated, err := f.svc.TransitionStatus(ctx, o.ID, to)
			require.NoError(t, err, to)
			assert.Equal(t, to, updated.Status)
		}
	})

	t.Run("Rejects skips and backward moves", func(t *testing.T) {
		f := setup(t)
		o, _ := newOrder(t, f)

		_, err := f.svc.TransitionStatus(ctx, o.ID, model.StatusShipped)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

		_, err = f.svc.TransitionStatus(ctx, o.ID, model.StatusPaid)
		require.NoError(t, err)
		_, err = f.svc.TransitionStatus(ctx, o.ID, model.StatusPending)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})

	t.Run("Cancel releases stock and is terminal", func(t *testing.T) {
		f := setup(t)
		o, p := newOrder(t, f)
		assert.Equal(t, 8, f.stock(t, p.ID))

		updated, err := f.svc.TransitionStatus(ctx, o.ID, model.StatusCancelled)
		require.NoError(t, err)
		assert.NotNil(t, updated.CancelledAt)
		assert.Equal(t, 10, f.stock(t, p.ID))

		_, err = f.svc.TransitionStatus(ctx, o.ID, model.StatusPaid)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		_, err = f.svc.TransitionStatus(ctx, o.ID, model.StatusCancelled)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		assert.Equal(t, 10, f.stock(t, p.ID))
	})

	t.Run("Not found and unknown status", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.TransitionStatus(ctx, "missing", model.StatusPaid)
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		_, err = f.svc.TransitionStatus(ctx, "missing", "refunded")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestGetOrderVisibility(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "A", "10.00", 10)
	owner := "8b0e8f4e-8b7a-4a0c-9a57-1f3f6f0a0002"

	o, err := f.svc.CreateOrder(ctx, CreateOrderInput{Items: []ItemInput{{ProductID: p.ID, Quantity: 1}}}, &owner)
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, o.ID, Viewer{UserID: owner})
	assert.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, o.ID, Viewer{Admin: true})
	assert.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, o.ID, Viewer{UserID: "someone-else"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	page, err := f.svc.ListMyOrders(ctx, owner, utils.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}
