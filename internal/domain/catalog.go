package domain

// Идентификаторы продуктов. Каталог фиксирован и не меняется во время работы.
const (
	BasicProduct   = "basic_subscription"
	PremiumProduct = "premium_subscription"
	OneTimeProduct = "com.outthinking.audioextractor.lifetime"
)

// Теги тарифных планов
const (
	BasicMonthlyPlan      = "basicmonthly_1"
	BasicYearlyPlan       = "basicyearly_1"
	PremiumMonthlyPlan    = "premiummonthly"
	PremiumYearlyPlan     = "premiumyearly"
	BasicPrepaidPlanTag   = "prepaidbasic"
	PremiumPrepaidPlanTag = "prepaidpremium"
)

// Catalog набор продуктов, которые запрашиваются у провайдера
type Catalog struct {
	SubscriptionProducts []string
	OneTimeProducts      []string
}

// DefaultCatalog возвращает встроенный каталог приложения
func DefaultCatalog() Catalog {
	return Catalog{
		SubscriptionProducts: []string{BasicProduct, PremiumProduct},
		OneTimeProducts:      []string{OneTimeProduct},
	}
}

// PlanTags возвращает теги планов, известные для продукта
func PlanTags(productID string) []string {
	switch productID {
	case BasicProduct:
		return []string{BasicMonthlyPlan, BasicYearlyPlan, BasicPrepaidPlanTag}
	case PremiumProduct:
		return []string{PremiumMonthlyPlan, PremiumYearlyPlan, PremiumPrepaidPlanTag}
	default:
		return nil
	}
}

// TypeOf возвращает тип продукта по каталогу
func (c Catalog) TypeOf(productID string) (ProductType, bool) {
	for _, id := range c.SubscriptionProducts {
		if id == productID {
			return ProductTypeSubscription, true
		}
	}
	for _, id := range c.OneTimeProducts {
		if id == productID {
			return ProductTypeOneTime, true
		}
	}
	return "", false
}
