package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/finitefield/pos-api/internal/domain"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

const (
	catalogItemsCollection = "catalogItems"
	recipesCollection      = "recipes"
	combosCollection       = "combos"
	tablesCollection       = "tables"
)

type catalogItemDocument struct {
	Name         string `firestore:"name"`
	CategoryID   string `firestore:"categoryId"`
	SellingPrice int64  `firestore:"sellingPrice"`
	AvgUnitCost  int64  `firestore:"avgUnitCost"`
	Active       bool   `firestore:"active"`
}

type recipeDocument struct {
	Ingredients []ingredientDocument `firestore:"ingredients"`
}

// Quantity is stored as a decimal string so fractional amounts survive the round trip exactly.
type ingredientDocument struct {
	IngredientID string `firestore:"ingredientId"`
	Name         string `firestore:"name"`
	Quantity     string `firestore:"quantity"`
	AvgUnitCost  int64  `firestore:"avgUnitCost"`
}

type comboDocument struct {
	Name       string                `firestore:"name"`
	ComboPrice int64                 `firestore:"comboPrice"`
	Active     bool                  `firestore:"active"`
	StartsAt   *time.Time            `firestore:"startsAt"`
	EndsAt     *time.Time            `firestore:"endsAt"`
	Members    []comboMemberDocument `firestore:"members"`
}

type comboMemberDocument struct {
	ItemID     string `firestore:"itemId"`
	ExtraPrice int64  `firestore:"extraPrice"`
}

// CatalogRepository reads catalog items, recipes and combos maintained by the inventory service.
type CatalogRepository struct {
	items   *pfirestore.Collection[catalogItemDocument]
	recipes *pfirestore.Collection[recipeDocument]
	combos  *pfirestore.Collection[comboDocument]
}

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		items:   pfirestore.NewCollection[catalogItemDocument](provider, catalogItemsCollection),
		recipes: pfirestore.NewCollection[recipeDocument](provider, recipesCollection),
		combos:  pfirestore.NewCollection[comboDocument](provider, combosCollection),
	}, nil
}

func (r *CatalogRepository) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	itemID = strings.TrimSpace(itemID)
	doc, err := r.items.Get(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return domain.CatalogItem{
		ID:           itemID,
		Name:         doc.Name,
		CategoryID:   doc.CategoryID,
		SellingPrice: doc.SellingPrice,
		AvgUnitCost:  doc.AvgUnitCost,
		Active:       doc.Active,
	}, nil
}

func (r *CatalogRepository) GetRecipe(ctx context.Context, itemID string) (domain.Recipe, error) {
	itemID = strings.TrimSpace(itemID)
	recipe := domain.Recipe{ItemID: itemID}
	doc, err := r.recipes.Get(ctx, itemID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return recipe, nil
		}
		return domain.Recipe{}, err
	}
	for _, ing := range doc.Ingredients {
		qty, err := decimal.NewFromString(ing.Quantity)
		if err != nil {
			return domain.Recipe{}, fmt.Errorf("firestore: recipe %s ingredient %s quantity: %w", itemID, ing.IngredientID, err)
		}
		recipe.Ingredients = append(recipe.Ingredients, domain.RecipeIngredient{
			IngredientID: ing.IngredientID,
			Name:         ing.Name,
			Quantity:     qty,
			AvgUnitCost:  ing.AvgUnitCost,
		})
	}
	return recipe, nil
}

func (r *CatalogRepository) GetCombo(ctx context.Context, comboID string) (domain.Combo, error) {
	comboID = strings.TrimSpace(comboID)
	doc, err := r.combos.Get(ctx, comboID)
	if err != nil {
		return domain.Combo{}, err
	}
	combo := domain.Combo{
		ID:         comboID,
		Name:       doc.Name,
		ComboPrice: doc.ComboPrice,
		Active:     doc.Active,
		StartsAt:   utcPtr(doc.StartsAt),
		EndsAt:     utcPtr(doc.EndsAt),
	}
	for _, m := range doc.Members {
		combo.Members = append(combo.Members, domain.ComboMember{ItemID: m.ItemID, ExtraPrice: m.ExtraPrice})
	}
	return combo, nil
}

type tableDocument struct {
	Name      string    `firestore:"name"`
	Status    string    `firestore:"status"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// TableRepository tracks table occupancy.
type TableRepository struct {
	tables *pfirestore.Collection[tableDocument]
}

func NewTableRepository(provider *pfirestore.Provider) (*TableRepository, error) {
	if provider == nil {
		return nil, errors.New("table repository requires firestore provider")
	}
	return &TableRepository{tables: pfirestore.NewCollection[tableDocument](provider, tablesCollection)}, nil
}

func (r *TableRepository) GetTable(ctx context.Context, tableID string) (domain.Table, error) {
	doc, err := r.tables.Get(ctx, tableID)
	if err != nil {
		return domain.Table{}, err
	}
	status := domain.TableStatus(doc.Status)
	if status == "" {
		status = domain.TableStatusAvailable
	}
	return domain.Table{ID: tableID, Name: doc.Name, Status: status, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}

func (r *TableRepository) SetStatus(ctx context.Context, tableID string, status domain.TableStatus, at time.Time) error {
	doc, err := r.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	doc.Status = string(status)
	doc.UpdatedAt = at.UTC()
	return r.tables.Set(ctx, tableID, doc)
}
