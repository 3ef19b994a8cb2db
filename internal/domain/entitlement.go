package domain

// SubscriptionForProduct возвращает подписку для продукта, если она есть.
// Активная запись важнее завершенных: у продукта может быть несколько токенов.
func SubscriptionForProduct(subscriptions []SubscriptionStatus, product string) *SubscriptionStatus {
	var found *SubscriptionStatus
	for i := range subscriptions {
		if subscriptions[i].Product != product {
			continue
		}
		if subscriptions[i].IsEntitlementActive {
			return &subscriptions[i]
		}
		if found == nil {
			found = &subscriptions[i]
		}
	}
	return found
}

// PurchaseForProduct возвращает покупку, первый продукт которой совпадает с product
func PurchaseForProduct(purchases []Purchase, product string) *Purchase {
	for i := range purchases {
		if len(purchases[i].Products) > 0 && purchases[i].Products[0] == product {
			return &purchases[i]
		}
	}
	return nil
}

// DeviceHasSubscription true, если у провайдера есть запись о подписке.
// Может не совпадать с данными сервера для текущего пользователя приложения.
func DeviceHasSubscription(purchases []Purchase, product string) bool {
	return PurchaseForProduct(purchases, product) != nil
}

// ServerHasSubscription true, если у сервера есть запись о подписке
func ServerHasSubscription(subscriptions []SubscriptionStatus, product string) bool {
	return SubscriptionForProduct(subscriptions, product) != nil
}

// IsGracePeriod нужно ли показывать состояние grace period
func IsGracePeriod(s *SubscriptionStatus) bool {
	return s != nil && s.IsEntitlementActive && s.IsGracePeriod && !s.SubAlreadyOwned
}

// IsSubscriptionRestore нужно ли предлагать восстановление подписки
func IsSubscriptionRestore(s *SubscriptionStatus) bool {
	return s != nil && s.IsEntitlementActive && !s.WillRenew && !s.SubAlreadyOwned
}

// IsBasicContent доступен ли базовый контент
func IsBasicContent(s *SubscriptionStatus) bool {
	return s != nil && s.IsEntitlementActive && s.Product == BasicProduct && !s.SubAlreadyOwned
}

// IsPremiumContent доступен ли премиум контент
func IsPremiumContent(s *SubscriptionStatus) bool {
	return s != nil && s.IsEntitlementActive && s.Product == PremiumProduct && !s.SubAlreadyOwned
}

// IsAccountHold находится ли подписка на удержании
func IsAccountHold(s *SubscriptionStatus) bool {
	return s != nil && !s.IsEntitlementActive && s.IsAccountHold && !s.SubAlreadyOwned
}

// IsPaused приостановлена ли подписка
func IsPaused(s *SubscriptionStatus) bool {
	return s != nil && !s.IsEntitlementActive && s.IsPaused && !s.SubAlreadyOwned
}

// IsTransferRequired подписка принадлежит другому аккаунту и требует переноса
func IsTransferRequired(s *SubscriptionStatus) bool {
	return s != nil && s.SubAlreadyOwned
}

// IsPrepaid предоплаченная подписка без автопродления
func IsPrepaid(s *SubscriptionStatus) bool {
	return s != nil && !s.WillRenew
}
