package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	productCollection      = "products"
	voucherCollection      = "vouchers"
	voucherUsageCollection = "usage"
	promotionCollection    = "promotions"
)

// ProductRepository reads catalog products and applies guarded stock changes.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
	uow  *UnitOfWork
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider, uow *UnitOfWork) (*ProductRepository, error) {
	if provider == nil || uow == nil {
		return nil, errors.New("product repository requires firestore provider and unit of work")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productCollection),
		uow:  uow,
	}, nil
}

// Put creates or replaces a product document.
func (r *ProductRepository) Put(ctx context.Context, product domain.Product) error {
	ref, err := r.base.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	return pfirestore.WrapError("product.put", writeDoc(ctx, ref, newProductDocument(product), false))
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	ref, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	doc, found, err := readDoc[productDocument](ctx, ref)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("product.find", err)
	}
	if !found {
		return domain.Product{}, notFoundError("product.find", productID)
	}
	return doc.toDomain(productID), nil
}

// FindByIDs omits ids without a document.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if _, seen := out[id]; seen || strings.TrimSpace(id) == "" {
			continue
		}
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		doc, found, err := readDoc[productDocument](ctx, ref)
		if err != nil {
			return nil, pfirestore.WrapError("product.find_many", err)
		}
		if found {
			out[id] = doc.toDomain(id)
		}
	}
	return out, nil
}

func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	return r.adjustStock(ctx, "product.decrement", productID, func(product domain.Product) (domain.Product, error) {
		if !product.Active {
			return product, &repositories.StockError{Code: repositories.StockErrorInactive, ProductID: productID, Requested: qty, Available: product.Stock}
		}
		if product.Stock-qty < 0 {
			return product, &repositories.StockError{Code: repositories.StockErrorInsufficient, ProductID: productID, Requested: qty, Available: product.Stock}
		}
		product.Stock -= qty
		return product, nil
	})
}

func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, qty int) (domain.Product, error) {
	return r.adjustStock(ctx, "product.increment", productID, func(product domain.Product) (domain.Product, error) {
		product.Stock += qty
		return product, nil
	})
}

func (r *ProductRepository) adjustStock(ctx context.Context, op, productID string, fn func(domain.Product) (domain.Product, error)) (domain.Product, error) {
	var out domain.Product
	err := r.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := r.FindByID(txCtx, productID)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		next.UpdatedAt = time.Now().UTC()
		ref, err := r.base.DocumentRef(txCtx, productID)
		if err != nil {
			return err
		}
		if err := writeDoc(txCtx, ref, newProductDocument(next), false); err != nil {
			return pfirestore.WrapError(op, err)
		}
		out = next
		return nil
	})
	return out, err
}

// VoucherRepository stores vouchers with per-customer usage counters in a subcollection.
type VoucherRepository struct {
	base *pfirestore.BaseRepository[voucherDocument]
	uow  *UnitOfWork
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)

// NewVoucherRepository constructs a Firestore-backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider, uow *UnitOfWork) (*VoucherRepository, error) {
	if provider == nil || uow == nil {
		return nil, errors.New("voucher repository requires firestore provider and unit of work")
	}
	return &VoucherRepository{
		base: pfirestore.NewBaseRepository[voucherDocument](provider, voucherCollection),
		uow:  uow,
	}, nil
}

// Put creates or replaces a voucher. Codes are stored upper-cased so lookups are case-insensitive.
func (r *VoucherRepository) Put(ctx context.Context, voucher domain.Voucher) error {
	voucher.Code = strings.ToUpper(strings.TrimSpace(voucher.Code))
	ref, err := r.base.DocumentRef(ctx, voucher.ID)
	if err != nil {
		return err
	}
	return pfirestore.WrapError("voucher.put", writeDoc(ctx, ref, newVoucherDocument(voucher), false))
}

func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Voucher{}, notFoundError("voucher.find", code)
	}
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.Voucher{}, err
	}
	docs, err := queryDocs[voucherDocument](ctx, coll.Where("code", "==", normalized).Limit(1))
	if err != nil {
		return domain.Voucher{}, pfirestore.WrapError("voucher.find", err)
	}
	if len(docs) == 0 {
		return domain.Voucher{}, notFoundError("voucher.find", normalized)
	}
	// Prefer a staged write for the same document so usage bumps are visible in the transaction.
	return r.findByID(ctx, docs[0].id)
}

func (r *VoucherRepository) findByID(ctx context.Context, voucherID string) (domain.Voucher, error) {
	ref, err := r.base.DocumentRef(ctx, voucherID)
	if err != nil {
		return domain.Voucher{}, err
	}
	doc, found, err := readDoc[voucherDocument](ctx, ref)
	if err != nil {
		return domain.Voucher{}, pfirestore.WrapError("voucher.get", err)
	}
	if !found {
		return domain.Voucher{}, notFoundError("voucher.get", voucherID)
	}
	return doc.toDomain(voucherID), nil
}

func (r *VoucherRepository) usageRef(ctx context.Context, voucherID, customerID string) (*firestore.DocumentRef, error) {
	ref, err := r.base.DocumentRef(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("voucher repository: customer id is required")
	}
	return ref.Collection(voucherUsageCollection).Doc(customerID), nil
}

func (r *VoucherRepository) CustomerUsage(ctx context.Context, voucherID, customerID string) (int, error) {
	ref, err := r.usageRef(ctx, voucherID, customerID)
	if err != nil {
		return 0, err
	}
	doc, _, err := readDoc[voucherUsageDocument](ctx, ref)
	if err != nil {
		return 0, pfirestore.WrapError("voucher.usage", err)
	}
	return doc.Count, nil
}

func (r *VoucherRepository) IncrementUsage(ctx context.Context, voucherID, customerID string) (domain.Voucher, error) {
	var out domain.Voucher
	err := r.uow.RunInTx(ctx, func(txCtx context.Context) error {
		voucher, err := r.findByID(txCtx, voucherID)
		if err != nil {
			return err
		}
		if voucher.Exhausted() {
			return &repositories.VoucherUsageError{Code: repositories.VoucherUsageLimitReached, VoucherID: voucherID}
		}
		usageRef, err := r.usageRef(txCtx, voucherID, customerID)
		if err != nil {
			return err
		}
		usage, _, err := readDoc[voucherUsageDocument](txCtx, usageRef)
		if err != nil {
			return pfirestore.WrapError("voucher.usage", err)
		}
		if voucher.UsagePerUser > 0 && usage.Count >= voucher.UsagePerUser {
			return &repositories.VoucherUsageError{Code: repositories.VoucherPerUserLimitReached, VoucherID: voucherID}
		}

		now := time.Now().UTC()
		voucher.UsageCount++
		voucher.UpdatedAt = now
		ref, err := r.base.DocumentRef(txCtx, voucherID)
		if err != nil {
			return err
		}
		if err := writeDoc(txCtx, ref, newVoucherDocument(voucher), false); err != nil {
			return pfirestore.WrapError("voucher.increment", err)
		}
		usage.Count++
		usage.UpdatedAt = now
		if err := writeDoc(txCtx, usageRef, usage, false); err != nil {
			return pfirestore.WrapError("voucher.increment", err)
		}
		out = voucher
		return nil
	})
	return out, err
}

func (r *VoucherRepository) DecrementUsage(ctx context.Context, voucherID, customerID string) (domain.Voucher, error) {
	var out domain.Voucher
	err := r.uow.RunInTx(ctx, func(txCtx context.Context) error {
		voucher, err := r.findByID(txCtx, voucherID)
		if err != nil {
			return err
		}
		usageRef, err := r.usageRef(txCtx, voucherID, customerID)
		if err != nil {
			return err
		}
		usage, _, err := readDoc[voucherUsageDocument](txCtx, usageRef)
		if err != nil {
			return pfirestore.WrapError("voucher.usage", err)
		}

		now := time.Now().UTC()
		voucher.UsageCount = max(voucher.UsageCount-1, 0)
		voucher.UpdatedAt = now
		ref, err := r.base.DocumentRef(txCtx, voucherID)
		if err != nil {
			return err
		}
		if err := writeDoc(txCtx, ref, newVoucherDocument(voucher), false); err != nil {
			return pfirestore.WrapError("voucher.decrement", err)
		}
		usage.Count = max(usage.Count-1, 0)
		usage.UpdatedAt = now
		if err := writeDoc(txCtx, usageRef, usage, false); err != nil {
			return pfirestore.WrapError("voucher.decrement", err)
		}
		out = voucher
		return nil
	})
	return out, err
}

func (r *VoucherRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Voucher, error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := queryDocs[voucherDocument](ctx, coll.Where("isActive", "==", true).Where("expiryDate", "<", now.UTC()))
	if err != nil {
		return nil, pfirestore.WrapError("voucher.list_expired", err)
	}
	var out []domain.Voucher
	for _, d := range docs {
		voucher := d.doc.toDomain(d.id)
		if voucher.Window.ExpiredAt(now) {
			out = append(out, voucher)
		}
	}
	slices.SortFunc(out, func(a, b domain.Voucher) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *VoucherRepository) Deactivate(ctx context.Context, voucherID string, at time.Time) error {
	return r.uow.RunInTx(ctx, func(txCtx context.Context) error {
		voucher, err := r.findByID(txCtx, voucherID)
		if err != nil {
			return err
		}
		voucher.Window.IsActive = false
		voucher.UpdatedAt = at.UTC()
		ref, err := r.base.DocumentRef(txCtx, voucherID)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("voucher.deactivate", writeDoc(txCtx, ref, newVoucherDocument(voucher), false))
	})
}

// PromotionRepository stores automatically applied promotions.
type PromotionRepository struct {
	base *pfirestore.BaseRepository[promotionDocument]
	uow  *UnitOfWork
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider, uow *UnitOfWork) (*PromotionRepository, error) {
	if provider == nil || uow == nil {
		return nil, errors.New("promotion repository requires firestore provider and unit of work")
	}
	return &PromotionRepository{
		base: pfirestore.NewBaseRepository[promotionDocument](provider, promotionCollection),
		uow:  uow,
	}, nil
}

// Put creates or replaces a promotion document.
func (r *PromotionRepository) Put(ctx context.Context, promotion domain.Promotion) error {
	ref, err := r.base.DocumentRef(ctx, promotion.ID)
	if err != nil {
		return err
	}
	return pfirestore.WrapError("promotion.put", writeDoc(ctx, ref, newPromotionDocument(promotion), false))
}

// ListActive queries approved active promotions and narrows scope and window in memory, since
// Firestore cannot combine the array filters with the date range.
func (r *PromotionRepository) ListActive(ctx context.Context, productIDs, categoryIDs []string, now time.Time) ([]domain.Promotion, error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := queryDocs[promotionDocument](ctx, coll.
		Where("isActive", "==", true).
		Where("status", "==", string(domain.DiscountStatusApproved)))
	if err != nil {
		return nil, pfirestore.WrapError("promotion.list_active", err)
	}

	var out []domain.Promotion
	for _, d := range docs {
		promo := d.doc.toDomain(d.id)
		if !promo.Window.UsableAt(now) {
			continue
		}
		switch promo.Rule.Scope {
		case domain.DiscountScopeOrder:
			out = append(out, promo)
		case domain.DiscountScopeProduct:
			if intersects(promo.Rule.ProductIDs, productIDs) {
				out = append(out, promo)
			}
		case domain.DiscountScopeCategory:
			if intersects(promo.Rule.CategoryIDs, categoryIDs) {
				out = append(out, promo)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Promotion) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *PromotionRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := queryDocs[promotionDocument](ctx, coll.Where("isActive", "==", true).Where("expiryDate", "<", now.UTC()))
	if err != nil {
		return nil, pfirestore.WrapError("promotion.list_expired", err)
	}
	var out []domain.Promotion
	for _, d := range docs {
		promo := d.doc.toDomain(d.id)
		if promo.Window.ExpiredAt(now) {
			out = append(out, promo)
		}
	}
	slices.SortFunc(out, func(a, b domain.Promotion) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *PromotionRepository) Deactivate(ctx context.Context, promotionID string, at time.Time) error {
	return r.uow.RunInTx(ctx, func(txCtx context.Context) error {
		ref, err := r.base.DocumentRef(txCtx, promotionID)
		if err != nil {
			return err
		}
		doc, found, err := readDoc[promotionDocument](txCtx, ref)
		if err != nil {
			return pfirestore.WrapError("promotion.deactivate", err)
		}
		if !found {
			return notFoundError("promotion.deactivate", promotionID)
		}
		doc.IsActive = false
		doc.UpdatedAt = at.UTC()
		return pfirestore.WrapError("promotion.deactivate", writeDoc(txCtx, ref, doc, false))
	})
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
