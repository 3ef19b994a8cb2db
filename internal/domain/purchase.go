package domain

import (
	"slices"
	"time"
)

// ProductType тип продукта в каталоге провайдера
type ProductType string

const (
	ProductTypeSubscription ProductType = "subs"
	ProductTypeOneTime      ProductType = "inapp"
)

// Valid проверяет, что тип продукта известен
func (t ProductType) Valid() bool {
	return t == ProductTypeSubscription || t == ProductTypeOneTime
}

// PurchaseState состояние покупки, как его сообщает провайдер
type PurchaseState int

const (
	PurchaseStateUnspecified PurchaseState = 0
	PurchaseStatePurchased   PurchaseState = 1
	PurchaseStatePending     PurchaseState = 2
)

func (s PurchaseState) String() string {
	switch s {
	case PurchaseStatePurchased:
		return "purchased"
	case PurchaseStatePending:
		return "pending"
	default:
		return "unspecified"
	}
}

// Purchase представляет одну транзакцию покупки у провайдера.
// PurchaseToken уникален для транзакции, Acknowledged меняется только false -> true.
type Purchase struct {
	Products      []string      `json:"products"`
	PurchaseToken string        `json:"purchase_token"`
	OrderID       string        `json:"order_id,omitempty"`
	Acknowledged  bool          `json:"acknowledged"`
	State         PurchaseState `json:"state"`
	AutoRenewing  bool          `json:"auto_renewing"`
	Quantity      int           `json:"quantity"`
	PurchaseTime  time.Time     `json:"purchase_time"`
}

// Equal сравнивает покупки по значению
func (p Purchase) Equal(o Purchase) bool {
	return p.PurchaseToken == o.PurchaseToken &&
		p.OrderID == o.OrderID &&
		p.Acknowledged == o.Acknowledged &&
		p.State == o.State &&
		p.AutoRenewing == o.AutoRenewing &&
		p.Quantity == o.Quantity &&
		p.PurchaseTime.Equal(o.PurchaseTime) &&
		slices.Equal(p.Products, o.Products)
}

// HasProduct проверяет, относится ли покупка к продукту
func (p Purchase) HasProduct(productID string) bool {
	return slices.Contains(p.Products, productID)
}

// HasAnyProduct проверяет, относится ли покупка хотя бы к одному из продуктов
func (p Purchase) HasAnyProduct(productIDs []string) bool {
	for _, id := range productIDs {
		if p.HasProduct(id) {
			return true
		}
	}
	return false
}

// PurchasesEqual сравнивает списки покупок с учетом порядка
func PurchasesEqual(a, b []Purchase) bool {
	return slices.EqualFunc(a, b, Purchase.Equal)
}

// ClonePurchases делает глубокую копию списка покупок
func ClonePurchases(list []Purchase) []Purchase {
	if list == nil {
		return nil
	}
	out := make([]Purchase, len(list))
	for i, p := range list {
		p.Products = slices.Clone(p.Products)
		out[i] = p
	}
	return out
}

// PricingPlan тарифный план (base plan) продукта
type PricingPlan struct {
	BasePlanID string   `json:"base_plan_id"`
	OfferTags  []string `json:"offer_tags,omitempty"`
	OfferToken string   `json:"offer_token,omitempty"`
}

// ProductDetails метаданные продукта из каталога провайдера
type ProductDetails struct {
	ProductID    string        `json:"product_id"`
	Type         ProductType   `json:"type"`
	Title        string        `json:"title,omitempty"`
	Name         string        `json:"name,omitempty"`
	Description  string        `json:"description,omitempty"`
	PricingPlans []PricingPlan `json:"pricing_plans,omitempty"`
}

// PlanWithTag возвращает план, у которого есть указанный тег
func (d ProductDetails) PlanWithTag(tag string) (PricingPlan, bool) {
	for _, plan := range d.PricingPlans {
		if plan.BasePlanID == tag || slices.Contains(plan.OfferTags, tag) {
			return plan, true
		}
	}
	return PricingPlan{}, false
}
