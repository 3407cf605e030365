package firestore

import (
	"context"
	"errors"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/finitefield/pos-api/internal/domain"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

const (
	ledgerCategoriesCollection   = "ledgerCategories"
	ledgerTransactionsCollection = "ledgerTransactions"
)

type ledgerCategoryDocument struct {
	Name      string    `firestore:"name"`
	Direction string    `firestore:"direction"`
	System    bool      `firestore:"system"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type ledgerTransactionDocument struct {
	ID            string     `firestore:"id"`
	CategoryID    string     `firestore:"categoryId"`
	Amount        int64      `firestore:"amount"`
	Direction     string     `firestore:"direction"`
	ReferenceType string     `firestore:"referenceType"`
	ReferenceID   string     `firestore:"referenceId"`
	Description   string     `firestore:"description"`
	PaymentMethod *string    `firestore:"paymentMethod"`
	StaffID       string     `firestore:"staffId"`
	Status        string     `firestore:"status"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	CanceledAt    *time.Time `firestore:"canceledAt"`
}

// LedgerRepository writes finance postings. Category documents are keyed by their stable code.
type LedgerRepository struct {
	categories   *pfirestore.Collection[ledgerCategoryDocument]
	transactions *pfirestore.Collection[ledgerTransactionDocument]
	opts         options
}

func NewLedgerRepository(provider *pfirestore.Provider, opts ...Option) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{
		categories:   pfirestore.NewCollection[ledgerCategoryDocument](provider, ledgerCategoriesCollection),
		transactions: pfirestore.NewCollection[ledgerTransactionDocument](provider, ledgerTransactionsCollection),
		opts:         newOptions(opts),
	}, nil
}

func (r *LedgerRepository) EnsureCategory(ctx context.Context, category domain.LedgerCategory) (domain.LedgerCategory, error) {
	doc, err := r.categories.Get(ctx, category.ID)
	if err == nil {
		return domain.LedgerCategory{
			ID:        category.ID,
			Name:      doc.Name,
			Direction: domain.LedgerDirection(doc.Direction),
			System:    doc.System,
			CreatedAt: doc.CreatedAt.UTC(),
		}, nil
	}
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.LedgerCategory{}, err
	}

	if category.CreatedAt.IsZero() {
		category.CreatedAt = r.opts.now()
	}
	err = r.categories.Set(ctx, category.ID, ledgerCategoryDocument{
		Name:      category.Name,
		Direction: string(category.Direction),
		System:    category.System,
		CreatedAt: category.CreatedAt,
	})
	if err != nil {
		return domain.LedgerCategory{}, err
	}
	return category, nil
}

func (r *LedgerRepository) PostTransaction(ctx context.Context, txn domain.LedgerTransaction) (string, error) {
	exists, err := r.categories.Exists(ctx, txn.CategoryID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", pfirestore.NotFound("ledger.post", "ledger category %s not found", txn.CategoryID)
	}
	if txn.ID == "" {
		txn.ID = "txn_" + ulid.Make().String()
	}
	if txn.Status == "" {
		txn.Status = domain.LedgerTransactionPosted
	}
	doc := ledgerTransactionDocument{
		ID:            txn.ID,
		CategoryID:    txn.CategoryID,
		Amount:        txn.Amount,
		Direction:     string(txn.Direction),
		ReferenceType: string(txn.ReferenceType),
		ReferenceID:   txn.ReferenceID,
		Description:   txn.Description,
		StaffID:       txn.StaffID,
		Status:        string(txn.Status),
		CreatedAt:     txn.CreatedAt.UTC(),
		CanceledAt:    txn.CanceledAt,
	}
	if txn.PaymentMethod != nil {
		method := string(*txn.PaymentMethod)
		doc.PaymentMethod = &method
	}
	if err := r.transactions.Set(ctx, txn.ID, doc); err != nil {
		return "", err
	}
	return txn.ID, nil
}

func (r *LedgerRepository) CancelTransaction(ctx context.Context, transactionID string, at time.Time) error {
	doc, err := r.transactions.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	at = at.UTC()
	doc.Status = string(domain.LedgerTransactionCanceled)
	doc.CanceledAt = &at
	return r.transactions.Set(ctx, transactionID, doc)
}

func (r *LedgerRepository) ListByReference(ctx context.Context, refType domain.LedgerReferenceType, refID string) ([]domain.LedgerTransaction, error) {
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("referenceType", "==", string(refType)).Where("referenceId", "==", refID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.LedgerTransaction, 0, len(docs))
	for _, doc := range docs {
		txn := domain.LedgerTransaction{
			ID:            doc.ID,
			CategoryID:    doc.CategoryID,
			Amount:        doc.Amount,
			Direction:     domain.LedgerDirection(doc.Direction),
			ReferenceType: domain.LedgerReferenceType(doc.ReferenceType),
			ReferenceID:   doc.ReferenceID,
			Description:   doc.Description,
			StaffID:       doc.StaffID,
			Status:        domain.LedgerTransactionStatus(doc.Status),
			CreatedAt:     doc.CreatedAt.UTC(),
			CanceledAt:    utcPtr(doc.CanceledAt),
		}
		if doc.PaymentMethod != nil {
			method := domain.PaymentMethod(*doc.PaymentMethod)
			txn.PaymentMethod = &method
		}
		out = append(out, txn)
	}
	slices.SortFunc(out, func(a, b domain.LedgerTransaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
