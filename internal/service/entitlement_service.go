package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/purchase-lifecycle/internal/billing"
	"github.com/Dhoini/purchase-lifecycle/internal/domain"
	"github.com/Dhoini/purchase-lifecycle/internal/kafka/producer"
	"github.com/Dhoini/purchase-lifecycle/internal/provider"
	"github.com/Dhoini/purchase-lifecycle/internal/repository"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// Billing часть координатора, которой пользуется сервис
type Billing interface {
	Catalog() domain.Catalog
	State() billing.ConnectionState
	PurchasesLoaded(productType domain.ProductType) bool
	SubscriptionPurchases() *billing.StateFlow[[]domain.Purchase]
	OneTimeProductPurchases() *billing.StateFlow[[]domain.Purchase]
	BasicSubscriptionDetails() *billing.StateFlow[*domain.ProductDetails]
	PremiumSubscriptionDetails() *billing.StateFlow[*domain.ProductDetails]
	OneTimeProductDetails() *billing.StateFlow[*domain.ProductDetails]
	Refresh(ctx context.Context) error
	Acknowledge(ctx context.Context, purchaseToken string) error
	LaunchBillingFlow(ctx context.Context, host provider.Host, params provider.FlowParams) provider.ResponseCode
}

// TokenTracker провайдер, которому нужно знать токены покупок заранее
type TokenTracker interface {
	Track(productID, purchaseToken string)
}

// ErrLaunchFailed провайдер отклонил запуск покупки
var ErrLaunchFailed = errors.New("billing flow was not launched")

// PurchasesSnapshot текущие списки покупок
type PurchasesSnapshot struct {
	Subscriptions   []domain.Purchase `json:"subscriptions"`
	OneTimeProducts []domain.Purchase `json:"one_time_products"`
	ConnectionState string            `json:"connection_state"`
}

// CatalogSnapshot последние метаданные продуктов. nil значит, что продукт не найден.
type CatalogSnapshot struct {
	BasicSubscription   *domain.ProductDetails `json:"basic_subscription"`
	PremiumSubscription *domain.ProductDetails `json:"premium_subscription"`
	OneTimeProduct      *domain.ProductDetails `json:"one_time_product"`
}

// Entitlements вычисленные права доступа по сохраненным статусам
type Entitlements struct {
	BasicContent      bool `json:"basic_content"`
	PremiumContent    bool `json:"premium_content"`
	HasOneTimeProduct bool `json:"has_one_time_product"`
	GracePeriod       bool `json:"grace_period"`
	AccountHold       bool `json:"account_hold"`
	Paused            bool `json:"paused"`
	TransferRequired  bool `json:"transfer_required"`
	RestoreAvailable  bool `json:"restore_available"`
	Prepaid           bool `json:"prepaid"`
}

// EntitlementService сохраняет покупки из координатора и отвечает на запросы о правах
type EntitlementService struct {
	billing Billing
	subs    repository.SubscriptionStore
	oneTime repository.OneTimeProductStore
	events  producer.PurchaseProducer
	tracker TokenTracker
	log     *logger.Logger
}

// Option настройка EntitlementService
type Option func(*EntitlementService)

// WithEvents публикует изменения покупок в Kafka
func WithEvents(events producer.PurchaseProducer) Option {
	return func(s *EntitlementService) { s.events = events }
}

// WithTokenTracker передает сохраненные токены провайдеру при старте
func WithTokenTracker(t TokenTracker) Option {
	return func(s *EntitlementService) { s.tracker = t }
}

// NewEntitlementService создает новый сервис прав доступа
func NewEntitlementService(b Billing, subs repository.SubscriptionStore, oneTime repository.OneTimeProductStore, log *logger.Logger, opts ...Option) *EntitlementService {
	s := &EntitlementService{
		billing: b,
		subs:    subs,
		oneTime: oneTime,
		log:     log.Named("entitlements"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed передает трекеру токены из хранилища
func (s *EntitlementService) Seed(ctx context.Context) error {
	if s.tracker == nil {
		return nil
	}

	subs, err := s.subs.List(ctx)
	if err != nil {
		return fmt.Errorf("list subscription statuses: %w", err)
	}
	for _, st := range subs {
		s.tracker.Track(st.Product, st.PurchaseToken)
	}

	oneTime, err := s.oneTime.List(ctx)
	if err != nil {
		return fmt.Errorf("list one-time product statuses: %w", err)
	}
	for _, st := range oneTime {
		s.tracker.Track(st.Product, st.PurchaseToken)
	}

	s.log.Infow("Seeded purchase tokens", "subscriptions", len(subs), "oneTimeProducts", len(oneTime))
	return nil
}

// Run сохраняет каждый новый список покупок, пока ctx не отменен
func (s *EntitlementService) Run(ctx context.Context) error {
	subs, cancelSubs := s.billing.SubscriptionPurchases().Subscribe()
	defer cancelSubs()
	oneTime, cancelOneTime := s.billing.OneTimeProductPurchases().Subscribe()
	defer cancelOneTime()

	for {
		select {
		case <-ctx.Done():
			return nil
		case list, ok := <-subs:
			if !ok {
				return nil
			}
			s.persist(ctx, domain.ProductTypeSubscription, list)
		case list, ok := <-oneTime:
			if !ok {
				return nil
			}
			s.persist(ctx, domain.ProductTypeOneTime, list)
		}
	}
}

// persist пишет статусы и публикует событие. Ошибки логируются: следующий
// список все равно придет при следующем обновлении.
//
// Пока координатор не получил ответ провайдера для этого типа, пустой список
// только заглушка и не сохраняется. После ответа сохраненные активные
// покупки, которых нет в списке, записываются с IsEntitlementActive=false.
func (s *EntitlementService) persist(ctx context.Context, productType domain.ProductType, purchases []domain.Purchase) {
	loaded := s.billing.PurchasesLoaded(productType)
	if !loaded && len(purchases) == 0 {
		s.log.Debugw("Skipping placeholder purchase list", "type", productType)
		return
	}
	// более новый список уже опубликован и придет следующим
	if loaded && !domain.PurchasesEqual(purchases, s.latest(productType)) {
		s.log.Debugw("Skipping superseded purchase list", "type", productType)
		return
	}

	var (
		ended int
		err   error
	)
	switch productType {
	case domain.ProductTypeSubscription:
		ended, err = storeStatuses(ctx, s.subs, s.subscriptionStatuses(purchases), loaded,
			repository.SubscriptionKey, endSubscription)
	default:
		ended, err = storeStatuses(ctx, s.oneTime, s.oneTimeStatuses(purchases), loaded,
			repository.OneTimeProductKey, endOneTimeProduct)
	}
	if err != nil {
		s.log.Errorw("Failed to store purchase statuses", "type", productType, "error", err)
		return
	}

	if s.events != nil {
		if err := s.events.PublishPurchasesUpdated(ctx, productType, purchases); err != nil {
			s.log.Warnw("Failed to publish purchases update", "type", productType, "error", err)
		}
	}
	s.log.Debugw("Stored purchase statuses", "type", productType, "count", len(purchases), "ended", ended)
}

// storeStatuses сохраняет current. При reconcile активные записи хранилища,
// которых нет в current, сохраняются завершенными через end.
func storeStatuses[T any](
	ctx context.Context,
	store repository.Store[T],
	current []T,
	reconcile bool,
	key func(T) string,
	end func(T) (T, bool),
) (int, error) {
	records := current
	ended := 0
	if reconcile {
		stored, err := store.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("list stored statuses: %w", err)
		}
		owned := make(map[string]struct{}, len(current))
		for _, r := range current {
			owned[key(r)] = struct{}{}
		}
		for _, r := range stored {
			if _, ok := owned[key(r)]; ok {
				continue
			}
			if e, ok := end(r); ok {
				records = append(records, e)
				ended++
			}
		}
	}
	if len(records) == 0 {
		return 0, nil
	}
	return ended, store.InsertAll(ctx, records)
}

// endSubscription снимает права с подписки, которой больше нет у провайдера
func endSubscription(st domain.SubscriptionStatus) (domain.SubscriptionStatus, bool) {
	if !st.IsEntitlementActive {
		return st, false
	}
	st.IsEntitlementActive = false
	st.WillRenew = false
	return st, true
}

// endOneTimeProduct снимает права с разовой покупки, которой больше нет у провайдера
func endOneTimeProduct(st domain.OneTimeProductStatus) (domain.OneTimeProductStatus, bool) {
	if !st.IsEntitlementActive {
		return st, false
	}
	st.IsEntitlementActive = false
	return st, true
}

func (s *EntitlementService) latest(productType domain.ProductType) []domain.Purchase {
	flow := s.billing.OneTimeProductPurchases()
	if productType == domain.ProductTypeSubscription {
		flow = s.billing.SubscriptionPurchases()
	}
	list, _ := flow.Value()
	return list
}

func (s *EntitlementService) subscriptionStatuses(purchases []domain.Purchase) []domain.SubscriptionStatus {
	catalog := s.billing.Catalog()
	out := make([]domain.SubscriptionStatus, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, domain.SubscriptionStatusFromPurchase(p, productOf(p, catalog.SubscriptionProducts)))
	}
	return out
}

func (s *EntitlementService) oneTimeStatuses(purchases []domain.Purchase) []domain.OneTimeProductStatus {
	catalog := s.billing.Catalog()
	out := make([]domain.OneTimeProductStatus, 0, len(purchases))
	for _, p := range purchases {
		out = append(out, domain.OneTimeProductStatusFromPurchase(p, productOf(p, catalog.OneTimeProducts)))
	}
	return out
}

// productOf возвращает первый продукт покупки из каталога
func productOf(p domain.Purchase, catalog []string) string {
	for _, id := range p.Products {
		for _, known := range catalog {
			if id == known {
				return id
			}
		}
	}
	if len(p.Products) > 0 {
		return p.Products[0]
	}
	return ""
}

// Acknowledge подтверждает покупку через координатор
func (s *EntitlementService) Acknowledge(ctx context.Context, purchaseToken string) error {
	if purchaseToken == "" {
		return fmt.Errorf("%w: empty purchase token", domain.ErrInvalidInput)
	}
	if err := s.billing.Acknowledge(ctx, purchaseToken); err != nil {
		return err
	}
	s.log.Infow("Purchase acknowledged", "token", purchaseToken)
	return nil
}

// PublishAcknowledged публикует событие подтверждения
func (s *EntitlementService) PublishAcknowledged(ctx context.Context, purchaseToken string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPurchaseAcknowledged(ctx, purchaseToken); err != nil {
		s.log.Warnw("Failed to publish acknowledgement", "token", purchaseToken, "error", err)
	}
}

// Refresh заново запрашивает каталог и покупки
func (s *EntitlementService) Refresh(ctx context.Context) error {
	return s.billing.Refresh(ctx)
}

// Launch запускает покупку продукта
func (s *EntitlementService) Launch(ctx context.Context, host provider.Host, params provider.FlowParams) error {
	if _, ok := s.billing.Catalog().TypeOf(params.ProductID); !ok {
		return fmt.Errorf("%w: unknown product %q", domain.ErrInvalidInput, params.ProductID)
	}
	code := s.billing.LaunchBillingFlow(ctx, host, params)
	switch code {
	case provider.OK:
		return nil
	case provider.ServiceDisconnected:
		return domain.ErrNotReady
	default:
		return fmt.Errorf("%w: %s", ErrLaunchFailed, code)
	}
}

// Purchases возвращает текущие списки покупок
func (s *EntitlementService) Purchases() PurchasesSnapshot {
	subs, _ := s.billing.SubscriptionPurchases().Value()
	oneTime, _ := s.billing.OneTimeProductPurchases().Value()
	return PurchasesSnapshot{
		Subscriptions:   subs,
		OneTimeProducts: oneTime,
		ConnectionState: s.billing.State().String(),
	}
}

// Catalog возвращает последние метаданные продуктов
func (s *EntitlementService) Catalog() CatalogSnapshot {
	basic, _ := s.billing.BasicSubscriptionDetails().Value()
	premium, _ := s.billing.PremiumSubscriptionDetails().Value()
	oneTime, _ := s.billing.OneTimeProductDetails().Value()
	return CatalogSnapshot{BasicSubscription: basic, PremiumSubscription: premium, OneTimeProduct: oneTime}
}

// Subscriptions возвращает сохраненные статусы подписок
func (s *EntitlementService) Subscriptions(ctx context.Context) ([]domain.SubscriptionStatus, error) {
	return s.subs.List(ctx)
}

// OneTimeProducts возвращает сохраненные статусы разовых покупок
func (s *EntitlementService) OneTimeProducts(ctx context.Context) ([]domain.OneTimeProductStatus, error) {
	return s.oneTime.List(ctx)
}

// HasOneTimeProduct есть ли активная разовая покупка
func (s *EntitlementService) HasOneTimeProduct(ctx context.Context) (bool, error) {
	statuses, err := s.oneTime.List(ctx)
	if err != nil {
		return false, err
	}
	for _, st := range statuses {
		if st.Product == domain.OneTimeProduct && st.IsEntitlementActive {
			return true, nil
		}
	}
	return false, nil
}

// Entitlements вычисляет права доступа по сохраненным статусам
func (s *EntitlementService) Entitlements(ctx context.Context) (Entitlements, error) {
	subs, err := s.subs.List(ctx)
	if err != nil {
		return Entitlements{}, fmt.Errorf("list subscription statuses: %w", err)
	}
	hasOneTime, err := s.HasOneTimeProduct(ctx)
	if err != nil {
		return Entitlements{}, fmt.Errorf("list one-time product statuses: %w", err)
	}

	basic := domain.SubscriptionForProduct(subs, domain.BasicProduct)
	premium := domain.SubscriptionForProduct(subs, domain.PremiumProduct)

	e := Entitlements{
		BasicContent:      domain.IsBasicContent(basic),
		PremiumContent:    domain.IsPremiumContent(premium),
		HasOneTimeProduct: hasOneTime,
	}
	for _, st := range []*domain.SubscriptionStatus{basic, premium} {
		e.GracePeriod = e.GracePeriod || domain.IsGracePeriod(st)
		e.AccountHold = e.AccountHold || domain.IsAccountHold(st)
		e.Paused = e.Paused || domain.IsPaused(st)
		e.TransferRequired = e.TransferRequired || domain.IsTransferRequired(st)
		e.RestoreAvailable = e.RestoreAvailable || domain.IsSubscriptionRestore(st)
		e.Prepaid = e.Prepaid || (domain.IsPrepaid(st) && st.IsEntitlementActive)
	}
	return e, nil
}
