package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
	"github.com/hanko-field/orderflow/internal/shipping"
)

const (
	maxCartLines      = 50
	maxCartQuantity   = 999
	defaultCurrency   = "VND"
	maxVariantCodeLen = 64
)

// CartServiceDeps wires the repositories and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Products        repositories.ProductRepository
	Promotions      repositories.PromotionRepository
	Vouchers        VoucherService
	Calculator      *PricingCalculator
	Carrier         ShippingCarrier
	ShippingOrigin  Address
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	pricer   *cartPricer
	carrier  ShippingCarrier
	origin   Address
	unit     repositories.UnitOfWork
	clock    func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		pricer:   newCartPricer(deps.Products, deps.Promotions, deps.Vouchers, deps.Calculator),
		carrier:  deps.Carrier,
		origin:   deps.ShippingOrigin,
		unit:     deps.UnitOfWork,
		clock:    func() time.Time { return clock().UTC() },
		currency: currency,
		logger:   logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, customerID string) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, validationError("customer id is required")
	}
	return s.load(ctx, customerID)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if cmd.Quantity <= 0 || cmd.Quantity > maxCartQuantity {
		return Cart{}, validationError("quantity must be between 1 and %d", maxCartQuantity)
	}
	return s.mutate(ctx, cmd.CustomerID, func(ctx context.Context, cart *domain.Cart, now time.Time) error {
		productID, variant, err := normalizeLineKey(cmd.ProductID, cmd.VariantCode)
		if err != nil {
			return err
		}
		product, err := s.sellableProduct(ctx, productID)
		if err != nil {
			return err
		}
		idx := cart.ItemIndex(productID, variant)
		quantity := cmd.Quantity
		if idx >= 0 {
			quantity += cart.Items[idx].Quantity
		}
		if quantity > maxCartQuantity {
			return validationError("quantity must be between 1 and %d", maxCartQuantity)
		}
		if quantity > product.Stock {
			return outOfStockError(productID, quantity, product.Stock)
		}
		if idx >= 0 {
			cart.Items[idx].Quantity = quantity
			cart.Items[idx].LineTotal = lineTotal(cart.Items[idx].UnitPrice, quantity)
			return nil
		}
		if len(cart.Items) >= maxCartLines {
			return validationError("cart cannot hold more than %d lines", maxCartLines)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   productID,
			VariantCode: variant,
			Quantity:    quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal(product.Price, quantity),
			AddedAt:     now,
		})
		return nil
	})
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if cmd.Quantity < 0 || cmd.Quantity > maxCartQuantity {
		return Cart{}, validationError("quantity must be between 0 and %d", maxCartQuantity)
	}
	return s.mutate(ctx, cmd.CustomerID, func(ctx context.Context, cart *domain.Cart, _ time.Time) error {
		productID, variant, err := normalizeLineKey(cmd.ProductID, cmd.VariantCode)
		if err != nil {
			return err
		}
		idx := cart.ItemIndex(productID, variant)
		if idx < 0 {
			return notFoundError("cart item", productID)
		}
		if cmd.Quantity == 0 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return nil
		}
		product, err := s.sellableProduct(ctx, productID)
		if err != nil {
			return err
		}
		if cmd.Quantity > product.Stock {
			return outOfStockError(productID, cmd.Quantity, product.Stock)
		}
		cart.Items[idx].Quantity = cmd.Quantity
		cart.Items[idx].LineTotal = lineTotal(cart.Items[idx].UnitPrice, cmd.Quantity)
		return nil
	})
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	return s.mutate(ctx, cmd.CustomerID, func(ctx context.Context, cart *domain.Cart, _ time.Time) error {
		productID, variant, err := normalizeLineKey(cmd.ProductID, cmd.VariantCode)
		if err != nil {
			return err
		}
		idx := cart.ItemIndex(productID, variant)
		if idx < 0 {
			return notFoundError("cart item", productID)
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return nil
	})
}

// ApplyVoucher prices the cart with the voucher and stores code and discount in one write,
// replacing any previously applied voucher.
func (s *cartService) ApplyVoucher(ctx context.Context, cmd ApplyVoucherCommand) (Cart, error) {
	if s.pricer.vouchers == nil {
		return Cart{}, errors.New("cart service: voucher service is not configured")
	}
	return s.mutateWith(ctx, cmd.CustomerID, false, func(ctx context.Context, cart *domain.Cart, now time.Time) error {
		if cart.IsEmpty() {
			return validationError("cannot apply a voucher to an empty cart")
		}
		lookup, err := s.pricer.vouchers.Lookup(ctx, cmd.Code, cart.CustomerID)
		if err != nil {
			return err
		}
		priced, err := s.pricer.priceWithVoucher(ctx, *cart, &lookup, now, false)
		if err != nil {
			return err
		}
		cart.VoucherCode = lookup.Voucher.Code
		cart.VoucherDiscount = priced.pricing.VoucherDiscount
		return nil
	})
}

func (s *cartService) RemoveVoucher(ctx context.Context, customerID string) (Cart, error) {
	return s.mutateWith(ctx, customerID, false, func(ctx context.Context, cart *domain.Cart, _ time.Time) error {
		cart.VoucherCode = ""
		cart.VoucherDiscount = 0
		return nil
	})
}

// Estimate prices the cart and, when a destination is supplied, quotes shipping.
func (s *cartService) Estimate(ctx context.Context, cmd EstimateCommand) (CartEstimate, error) {
	cart, err := s.GetCart(ctx, cmd.CustomerID)
	if err != nil {
		return CartEstimate{}, err
	}
	if cart.IsEmpty() {
		return CartEstimate{Cart: cart}, nil
	}
	now := s.clock()
	priced, err := s.pricer.price(ctx, cart, now, false)
	if err != nil {
		return CartEstimate{}, err
	}
	estimate := CartEstimate{
		Cart:        cart,
		Pricing:     priced.pricing,
		TotalAmount: priced.pricing.PayableBeforeShipping,
	}
	if cmd.Destination != nil && s.carrier != nil {
		fee, err := s.carrier.QuoteFee(ctx, shipping.QuoteRequest{
			Origin:         s.origin,
			Destination:    *cmd.Destination,
			Packages:       priced.packages(cart.Items),
			InsuranceValue: priced.pricing.PayableBeforeShipping,
		})
		if err != nil {
			return CartEstimate{}, externalServiceError("shipping carrier", err)
		}
		estimate.Shipping = &fee
		estimate.TotalAmount += fee.Total
	}
	return estimate, nil
}

func (s *cartService) load(ctx context.Context, customerID string) (Cart, error) {
	cart, err := s.carts.Get(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return s.newCart(customerID), nil
		}
		return Cart{}, mapRepositoryError(err, "cart", customerID)
	}
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	return cart, nil
}

func (s *cartService) newCart(customerID string) Cart {
	now := s.clock()
	return Cart{
		ID:         customerID,
		CustomerID: customerID,
		Currency:   s.currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *cartService) mutate(ctx context.Context, customerID string, fn func(ctx context.Context, cart *domain.Cart, now time.Time) error) (Cart, error) {
	return s.mutateWith(ctx, customerID, true, fn)
}

// mutateWith performs a read-modify-write of the cart inside one transaction. When reprice is
// set the applied voucher discount is recomputed against the new lines.
func (s *cartService) mutateWith(ctx context.Context, customerID string, reprice bool, fn func(ctx context.Context, cart *domain.Cart, now time.Time) error) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, validationError("customer id is required")
	}
	var out Cart
	run := func(txCtx context.Context) error {
		cart, err := s.load(txCtx, customerID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := fn(txCtx, &cart, now); err != nil {
			return err
		}
		if reprice {
			s.repriceVoucher(txCtx, &cart, now)
		}
		cart.UpdatedAt = now
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err, "cart", customerID)
		}
		out = cart
		return nil
	}
	var err error
	if s.unit != nil {
		err = s.unit.RunInTx(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return Cart{}, err
	}
	return out, nil
}

// repriceVoucher keeps the voucher code attached but zeroes its discount once it stops applying;
// checkout then reports why.
func (s *cartService) repriceVoucher(ctx context.Context, cart *domain.Cart, now time.Time) {
	if cart.VoucherCode == "" {
		return
	}
	if cart.IsEmpty() || s.pricer.vouchers == nil {
		cart.VoucherDiscount = 0
		return
	}
	lookup, err := s.pricer.vouchers.Lookup(ctx, cart.VoucherCode, cart.CustomerID)
	if err == nil {
		var priced pricedCart
		priced, err = s.pricer.priceWithVoucher(ctx, *cart, &lookup, now, false)
		if err == nil {
			cart.VoucherDiscount = priced.pricing.VoucherDiscount
			return
		}
	}
	s.logger(ctx, "cart.voucher.not_applicable", map[string]any{
		"customerId": cart.CustomerID,
		"code":       cart.VoucherCode,
		"reason":     ErrorCode(err),
	})
	cart.VoucherDiscount = 0
}

func (s *cartService) sellableProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, mapRepositoryError(err, "product", productID)
	}
	if !product.Active {
		return domain.Product{}, outOfStockError(productID, 1, 0)
	}
	return product, nil
}

func normalizeLineKey(productID, variant string) (string, string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", "", validationError("product id is required")
	}
	variant = strings.TrimSpace(variant)
	if len(variant) > maxVariantCodeLen {
		return "", "", validationError("variant code is too long")
	}
	return productID, variant, nil
}

func lineTotal(unitPrice int64, quantity int) int64 {
	if quantity <= 0 || unitPrice <= 0 {
		return 0
	}
	if unitPrice > math.MaxInt64/int64(quantity) {
		return math.MaxInt64
	}
	return unitPrice * int64(quantity)
}

// cartPricer loads the catalog and discount state for a cart and runs the calculator.
type cartPricer struct {
	products   repositories.ProductRepository
	promotions repositories.PromotionRepository
	vouchers   VoucherService
	calculator *PricingCalculator
}

type pricedCart struct {
	pricing  domain.PricingResult
	products map[string]domain.Product
	voucher  *VoucherLookup
}

func newCartPricer(products repositories.ProductRepository, promotions repositories.PromotionRepository, vouchers VoucherService, calculator *PricingCalculator) *cartPricer {
	if calculator == nil {
		calculator = NewPricingCalculator(PricingCalculatorDeps{})
	}
	return &cartPricer{products: products, promotions: promotions, vouchers: vouchers, calculator: calculator}
}

// price resolves the cart's voucher (if any) and prices it. With checkStock every line must be
// active and covered by current stock.
func (p *cartPricer) price(ctx context.Context, cart domain.Cart, now time.Time, checkStock bool) (pricedCart, error) {
	var lookup *VoucherLookup
	if code := strings.TrimSpace(cart.VoucherCode); code != "" {
		if p.vouchers == nil {
			return pricedCart{}, errors.New("cart pricer: voucher service is not configured")
		}
		found, err := p.vouchers.Lookup(ctx, code, cart.CustomerID)
		if err != nil {
			return pricedCart{}, err
		}
		lookup = &found
	}
	return p.priceWithVoucher(ctx, cart, lookup, now, checkStock)
}

func (p *cartPricer) priceWithVoucher(ctx context.Context, cart domain.Cart, lookup *VoucherLookup, now time.Time, checkStock bool) (pricedCart, error) {
	if cart.IsEmpty() {
		return pricedCart{}, validationError("cart is empty")
	}
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := p.products.FindByIDs(ctx, ids)
	if err != nil {
		return pricedCart{}, mapRepositoryError(err, "product", "")
	}

	required := make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		required[item.ProductID] += item.Quantity
	}

	lines := make([]PricingLineInput, 0, len(cart.Items))
	categories := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			if checkStock {
				return pricedCart{}, outOfStockError(item.ProductID, item.Quantity, 0)
			}
			return pricedCart{}, notFoundError("product", item.ProductID)
		}
		if checkStock {
			if !product.Active {
				return pricedCart{}, outOfStockError(item.ProductID, required[item.ProductID], 0)
			}
			if required[item.ProductID] > product.Stock {
				return pricedCart{}, outOfStockError(item.ProductID, required[item.ProductID], product.Stock)
			}
		}
		lines = append(lines, PricingLineInput{
			ProductID:  item.ProductID,
			CategoryID: product.CategoryID,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
		})
		if product.CategoryID != "" {
			categories = append(categories, product.CategoryID)
		}
	}

	var promotions []domain.Promotion
	if p.promotions != nil {
		promotions, err = p.promotions.ListActive(ctx, ids, categories, now)
		if err != nil {
			return pricedCart{}, mapRepositoryError(err, "promotion", "")
		}
	}

	input := PricingInput{Lines: lines, Promotions: promotions, Now: now}
	if lookup != nil {
		voucher := lookup.Voucher
		input.Voucher = &voucher
		input.VoucherUsage = lookup.CustomerUsage
	}
	result, err := p.calculator.Calculate(ctx, input)
	if err != nil {
		return pricedCart{}, err
	}
	return pricedCart{pricing: result, products: products, voucher: lookup}, nil
}

// packages builds carrier packages from the cart lines using catalog dimensions.
func (c pricedCart) packages(items []domain.CartItem) []domain.Package {
	out := make([]domain.Package, 0, len(items))
	for _, item := range items {
		out = append(out, domain.Package{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Dimensions: c.products[item.ProductID].Dimensions,
		})
	}
	return out
}
