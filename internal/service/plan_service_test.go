package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.plans.Seed(ctx)
	require.NoError(t, err)
	assert.True(t, first.Seeded)
	assert.Equal(t, "Plans seeded successfully", first.Message)

	second, err := env.plans.Seed(ctx)
	require.NoError(t, err)
	assert.False(t, second.Seeded)
	assert.Equal(t, "Plans already seeded", second.Message)

	plans, err := env.plans.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "starter", plans[0].Name)
	assert.Equal(t, "creator", plans[1].Name)
	assert.Equal(t, "studio", plans[2].Name)
	assert.Equal(t, 250, plans[1].MonthlyCredits)
	assert.Contains(t, plans[2].Features, "Dedicated support")
}

func TestConcurrentSeedWritesOneCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.plans.Seed(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := env.store.Plans().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.plans.Seed(ctx)
	require.NoError(t, err)

	plan, err := env.plans.Get(ctx, "studio")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 6000, plan.Price)
	assert.Equal(t, 70, plan.Markup)

	missing, err := env.plans.Get(ctx, "enterprise")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPriceDisplay(t *testing.T) {
	assert.Equal(t, "10.00", PriceDisplay(1000))
	assert.Equal(t, "31.00", PriceDisplay(3100))
	assert.Equal(t, "0.99", PriceDisplay(99))
	assert.Equal(t, "0.00", PriceDisplay(0))
}
