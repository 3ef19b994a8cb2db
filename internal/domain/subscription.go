package domain

// SubscriptionStatus снимок состояния подписки, который хранится локально.
// Записи заменяются целиком по PurchaseToken.
type SubscriptionStatus struct {
	// Локальные поля
	IsLocalPurchase bool `db:"is_local_purchase" json:"is_local_purchase"`
	SubAlreadyOwned bool `db:"sub_already_owned" json:"sub_already_owned"`

	// Поля от сервера или провайдера
	Product             string `db:"product" json:"product"`
	PurchaseToken       string `db:"purchase_token" json:"purchase_token"`
	IsEntitlementActive bool   `db:"is_entitlement_active" json:"is_entitlement_active"`
	WillRenew           bool   `db:"will_renew" json:"will_renew"`
	IsAcknowledged      bool   `db:"is_acknowledged" json:"is_acknowledged"`
	IsGracePeriod       bool   `db:"is_grace_period" json:"is_grace_period"`
	IsAccountHold       bool   `db:"is_account_hold" json:"is_account_hold"`
	IsPaused            bool   `db:"is_paused" json:"is_paused"`
}

// OneTimeProductStatus снимок состояния разовой покупки
type OneTimeProductStatus struct {
	IsLocalPurchase bool `db:"is_local_purchase" json:"is_local_purchase"`
	IsAlreadyOwned  bool `db:"is_already_owned" json:"is_already_owned"`

	Product             string `db:"product" json:"product"`
	PurchaseToken       string `db:"purchase_token" json:"purchase_token"`
	IsEntitlementActive bool   `db:"is_entitlement_active" json:"is_entitlement_active"`
	IsAcknowledged      bool   `db:"is_acknowledged" json:"is_acknowledged"`
	IsConsumed          bool   `db:"is_consumed" json:"is_consumed"`
	Quantity            int    `db:"quantity" json:"quantity"`
}

// SubscriptionStatusFromPurchase строит локальный снимок подписки из покупки
func SubscriptionStatusFromPurchase(p Purchase, product string) SubscriptionStatus {
	return SubscriptionStatus{
		IsLocalPurchase:     true,
		Product:             product,
		PurchaseToken:       p.PurchaseToken,
		IsEntitlementActive: p.State == PurchaseStatePurchased,
		WillRenew:           p.AutoRenewing,
		IsAcknowledged:      p.Acknowledged,
	}
}

// OneTimeProductStatusFromPurchase строит локальный снимок разовой покупки
func OneTimeProductStatusFromPurchase(p Purchase, product string) OneTimeProductStatus {
	return OneTimeProductStatus{
		IsLocalPurchase:     true,
		Product:             product,
		PurchaseToken:       p.PurchaseToken,
		IsEntitlementActive: p.State == PurchaseStatePurchased,
		IsAcknowledged:      p.Acknowledged,
		Quantity:            p.Quantity,
	}
}
