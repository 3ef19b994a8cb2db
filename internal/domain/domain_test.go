package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_TypeOf(t *testing.T) {
	c := DefaultCatalog()

	tp, ok := c.TypeOf(PremiumProduct)
	require.True(t, ok)
	assert.Equal(t, ProductTypeSubscription, tp)

	tp, ok = c.TypeOf(OneTimeProduct)
	require.True(t, ok)
	assert.Equal(t, ProductTypeOneTime, tp)

	_, ok = c.TypeOf("unknown")
	assert.False(t, ok)
}

func TestPlanTags(t *testing.T) {
	assert.Contains(t, PlanTags(BasicProduct), BasicPrepaidPlanTag)
	assert.Contains(t, PlanTags(PremiumProduct), PremiumYearlyPlan)
	assert.Nil(t, PlanTags(OneTimeProduct))
}

func TestPurchase_Equal(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := Purchase{Products: []string{BasicProduct}, PurchaseToken: "t1", State: PurchaseStatePurchased, PurchaseTime: at}
	b := ClonePurchases([]Purchase{a})[0]

	assert.True(t, a.Equal(b))

	b.Products[0] = PremiumProduct
	assert.False(t, a.Equal(b))
	assert.Equal(t, BasicProduct, a.Products[0], "clone must not share product slices")

	b = a
	b.Acknowledged = true
	assert.False(t, a.Equal(b))
}

func TestPurchasesEqual_OrderMatters(t *testing.T) {
	p1 := Purchase{PurchaseToken: "a"}
	p2 := Purchase{PurchaseToken: "b"}

	assert.True(t, PurchasesEqual([]Purchase{p1, p2}, []Purchase{p1, p2}))
	assert.False(t, PurchasesEqual([]Purchase{p1, p2}, []Purchase{p2, p1}))
	assert.True(t, PurchasesEqual(nil, []Purchase{}))
	assert.Nil(t, ClonePurchases(nil))
}

func TestPurchase_HasAnyProduct(t *testing.T) {
	p := Purchase{Products: []string{PremiumProduct}}

	assert.True(t, p.HasAnyProduct(DefaultCatalog().SubscriptionProducts))
	assert.False(t, p.HasAnyProduct(DefaultCatalog().OneTimeProducts))
}

func TestProductDetails_PlanWithTag(t *testing.T) {
	d := ProductDetails{
		ProductID: BasicProduct,
		PricingPlans: []PricingPlan{
			{BasePlanID: BasicMonthlyPlan, OfferToken: "m"},
			{BasePlanID: "prepaid", OfferTags: []string{BasicPrepaidPlanTag}, OfferToken: "p"},
		},
	}

	plan, ok := d.PlanWithTag(BasicMonthlyPlan)
	require.True(t, ok)
	assert.Equal(t, "m", plan.OfferToken)

	plan, ok = d.PlanWithTag(BasicPrepaidPlanTag)
	require.True(t, ok)
	assert.Equal(t, "p", plan.OfferToken)

	_, ok = d.PlanWithTag(BasicYearlyPlan)
	assert.False(t, ok)
}

func TestStatusFromPurchase(t *testing.T) {
	p := Purchase{
		PurchaseToken: "tok",
		State:         PurchaseStatePending,
		AutoRenewing:  true,
		Acknowledged:  true,
		Quantity:      2,
	}

	sub := SubscriptionStatusFromPurchase(p, BasicProduct)
	assert.Equal(t, SubscriptionStatus{
		IsLocalPurchase: true,
		Product:         BasicProduct,
		PurchaseToken:   "tok",
		WillRenew:       true,
		IsAcknowledged:  true,
	}, sub)

	p.State = PurchaseStatePurchased
	one := OneTimeProductStatusFromPurchase(p, OneTimeProduct)
	assert.True(t, one.IsEntitlementActive)
	assert.Equal(t, 2, one.Quantity)
}

func TestEntitlementPredicates(t *testing.T) {
	active := &SubscriptionStatus{Product: PremiumProduct, IsEntitlementActive: true, WillRenew: true}
	assert.True(t, IsPremiumContent(active))
	assert.False(t, IsBasicContent(active))
	assert.False(t, IsSubscriptionRestore(active))
	assert.False(t, IsPrepaid(active))

	canceled := &SubscriptionStatus{Product: BasicProduct, IsEntitlementActive: true}
	assert.True(t, IsSubscriptionRestore(canceled))
	assert.True(t, IsPrepaid(canceled))

	hold := &SubscriptionStatus{Product: BasicProduct, IsAccountHold: true}
	assert.True(t, IsAccountHold(hold))
	assert.False(t, IsBasicContent(hold))

	owned := &SubscriptionStatus{Product: BasicProduct, IsEntitlementActive: true, SubAlreadyOwned: true}
	assert.True(t, IsTransferRequired(owned))
	assert.False(t, IsBasicContent(owned))

	assert.False(t, IsGracePeriod(nil))
	assert.False(t, IsPaused(nil))
}

func TestSubscriptionLookups(t *testing.T) {
	subs := []SubscriptionStatus{{Product: BasicProduct, PurchaseToken: "b"}}
	assert.True(t, ServerHasSubscription(subs, BasicProduct))
	assert.False(t, ServerHasSubscription(subs, PremiumProduct))

	purchases := []Purchase{{Products: []string{PremiumProduct}, PurchaseToken: "p"}}
	assert.True(t, DeviceHasSubscription(purchases, PremiumProduct))
	assert.Nil(t, PurchaseForProduct(purchases, BasicProduct))
}

func TestSubscriptionForProduct_PrefersActive(t *testing.T) {
	subs := []SubscriptionStatus{
		{Product: PremiumProduct, PurchaseToken: "old"},
		{Product: BasicProduct, PurchaseToken: "basic", IsEntitlementActive: true},
		{Product: PremiumProduct, PurchaseToken: "new", IsEntitlementActive: true},
	}

	st := SubscriptionForProduct(subs, PremiumProduct)
	require.NotNil(t, st)
	assert.Equal(t, "new", st.PurchaseToken)

	st = SubscriptionForProduct(subs[:1], PremiumProduct)
	require.NotNil(t, st)
	assert.Equal(t, "old", st.PurchaseToken)

	assert.Nil(t, SubscriptionForProduct(subs, "unknown"))
}

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := NewProviderError("playstore", "fetch purchase", 6, "server error", cause)

	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "playstore fetch purchase failed [6]: server error: boom", err.Error())
}
