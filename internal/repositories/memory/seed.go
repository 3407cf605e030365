package memory

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/platform/textutil"
)

// Seed is the reference data loaded into a fresh registry.
type Seed struct {
	CatalogItems   []domain.CatalogItem
	Recipes        []domain.Recipe
	Combos         []domain.Combo
	Tables         []domain.Table
	Promotions     []domain.Promotion
	Customers      []domain.Customer
	CustomerGroups []domain.CustomerGroup
}

func (s *state) apply(seed Seed) {
	for _, item := range seed.CatalogItems {
		s.catalog[item.ID] = item
	}
	for _, recipe := range seed.Recipes {
		s.recipes[recipe.ItemID] = recipe
	}
	for _, combo := range seed.Combos {
		s.combos[combo.ID] = combo
	}
	for _, table := range seed.Tables {
		if table.Status == "" {
			table.Status = domain.TableStatusAvailable
		}
		s.tables[table.ID] = table
	}
	for _, promo := range seed.Promotions {
		promo.Code = textutil.NormalizeCode(promo.Code)
		s.promotions[promo.ID] = promo
	}
	for _, customer := range seed.Customers {
		s.customers[customer.ID] = customer
	}
	for _, group := range seed.CustomerGroups {
		s.groups[group.ID] = group
	}
}

type seedDocument struct {
	Catalog    []catalogDoc   `yaml:"catalog"`
	Combos     []comboDoc     `yaml:"combos"`
	Tables     []tableDoc     `yaml:"tables"`
	Promotions []promotionDoc `yaml:"promotions"`
	Customers  []customerDoc  `yaml:"customers"`
	Groups     []groupDoc     `yaml:"customerGroups"`
}

type catalogDoc struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	CategoryID   string          `yaml:"categoryId"`
	SellingPrice int64           `yaml:"sellingPrice"`
	AvgUnitCost  int64           `yaml:"avgUnitCost"`
	Active       *bool           `yaml:"active"`
	Recipe       []ingredientDoc `yaml:"recipe"`
}

type ingredientDoc struct {
	IngredientID string `yaml:"ingredientId"`
	Name         string `yaml:"name"`
	Quantity     string `yaml:"quantity"`
	AvgUnitCost  int64  `yaml:"avgUnitCost"`
}

type comboDoc struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	ComboPrice int64      `yaml:"comboPrice"`
	Active     *bool      `yaml:"active"`
	StartsAt   *time.Time `yaml:"startsAt"`
	EndsAt     *time.Time `yaml:"endsAt"`
	Members    []struct {
		ItemID     string `yaml:"itemId"`
		ExtraPrice int64  `yaml:"extraPrice"`
	} `yaml:"members"`
}

type tableDoc struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

type promotionDoc struct {
	ID                  string     `yaml:"id"`
	Code                string     `yaml:"code"`
	Name                string     `yaml:"name"`
	Type                string     `yaml:"type"`
	Active              *bool      `yaml:"active"`
	Percent             int64      `yaml:"percent"`
	MaxDiscount         *int64     `yaml:"maxDiscount"`
	Amount              int64      `yaml:"amount"`
	Price               int64      `yaml:"price"`
	Gift                *giftDoc   `yaml:"gift"`
	MinOrderValue       *int64     `yaml:"minOrderValue"`
	StartsAt            *time.Time `yaml:"startsAt"`
	EndsAt              *time.Time `yaml:"endsAt"`
	MaxTotalUsage       *int       `yaml:"maxTotalUsage"`
	MaxUsagePerCustomer *int       `yaml:"maxUsagePerCustomer"`
	Items               struct {
		All           bool     `yaml:"all"`
		IDs           []string `yaml:"ids"`
		AllCategories bool     `yaml:"allCategories"`
		CategoryIDs   []string `yaml:"categoryIds"`
	} `yaml:"items"`
	Combos struct {
		All bool     `yaml:"all"`
		IDs []string `yaml:"ids"`
	} `yaml:"combos"`
	Customers struct {
		All           bool     `yaml:"all"`
		AllGroups     bool     `yaml:"allGroups"`
		IDs           []string `yaml:"ids"`
		GroupIDs      []string `yaml:"groupIds"`
		ApplyToWalkIn bool     `yaml:"walkIn"`
	} `yaml:"customers"`
}

type giftDoc struct {
	Buy             int  `yaml:"buy"`
	Get             int  `yaml:"get"`
	RequireSameItem bool `yaml:"requireSameItem"`
	Options         []struct {
		ItemID      string `yaml:"itemId"`
		Name        string `yaml:"name"`
		MaxQuantity int    `yaml:"maxQuantity"`
	} `yaml:"options"`
}

type customerDoc struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Phone      string  `yaml:"phone"`
	GroupID    *string `yaml:"groupId"`
	TotalSpent int64   `yaml:"totalSpent"`
	OrderCount int     `yaml:"orderCount"`
}

type groupDoc struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	MinSpent  int64  `yaml:"minSpent"`
	MinOrders int    `yaml:"minOrders"`
	Priority  int    `yaml:"priority"`
}

// LoadSeedFile reads a YAML seed document from disk.
func LoadSeedFile(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("memory: read seed %s: %w", path, err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a YAML seed document. Promotions are validated before they are accepted.
func ParseSeed(raw []byte) (Seed, error) {
	var doc seedDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Seed{}, fmt.Errorf("memory: decode seed: %w", err)
	}

	var seed Seed
	var errs []error
	for _, item := range doc.Catalog {
		seed.CatalogItems = append(seed.CatalogItems, domain.CatalogItem{
			ID:           item.ID,
			Name:         item.Name,
			CategoryID:   item.CategoryID,
			SellingPrice: item.SellingPrice,
			AvgUnitCost:  item.AvgUnitCost,
			Active:       boolOr(item.Active, true),
		})
		if len(item.Recipe) == 0 {
			continue
		}
		recipe := domain.Recipe{ItemID: item.ID}
		for _, ing := range item.Recipe {
			qty, err := decimal.NewFromString(ing.Quantity)
			if err != nil {
				errs = append(errs, fmt.Errorf("catalog %s: ingredient %s quantity: %w", item.ID, ing.IngredientID, err))
				continue
			}
			recipe.Ingredients = append(recipe.Ingredients, domain.RecipeIngredient{
				IngredientID: ing.IngredientID,
				Name:         ing.Name,
				Quantity:     qty,
				AvgUnitCost:  ing.AvgUnitCost,
			})
		}
		seed.Recipes = append(seed.Recipes, recipe)
	}

	for _, c := range doc.Combos {
		combo := domain.Combo{
			ID:         c.ID,
			Name:       c.Name,
			ComboPrice: c.ComboPrice,
			Active:     boolOr(c.Active, true),
			StartsAt:   c.StartsAt,
			EndsAt:     c.EndsAt,
		}
		for _, m := range c.Members {
			combo.Members = append(combo.Members, domain.ComboMember{ItemID: m.ItemID, ExtraPrice: m.ExtraPrice})
		}
		seed.Combos = append(seed.Combos, combo)
	}

	for _, t := range doc.Tables {
		seed.Tables = append(seed.Tables, domain.Table{ID: t.ID, Name: t.Name, Status: domain.TableStatus(t.Status)})
	}

	for _, p := range doc.Promotions {
		promo := p.toDomain()
		if err := promo.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("promotion %s: %w", p.ID, err))
			continue
		}
		seed.Promotions = append(seed.Promotions, promo)
	}

	for _, c := range doc.Customers {
		seed.Customers = append(seed.Customers, domain.Customer{
			ID:         c.ID,
			Name:       c.Name,
			Phone:      c.Phone,
			GroupID:    c.GroupID,
			TotalSpent: c.TotalSpent,
			OrderCount: c.OrderCount,
		})
	}
	for _, g := range doc.Groups {
		seed.CustomerGroups = append(seed.CustomerGroups, domain.CustomerGroup{
			ID:        g.ID,
			Name:      g.Name,
			MinSpent:  g.MinSpent,
			MinOrders: g.MinOrders,
			Priority:  g.Priority,
		})
	}

	if err := errors.Join(errs...); err != nil {
		return Seed{}, fmt.Errorf("memory: invalid seed: %w", err)
	}
	return seed, nil
}

func (p promotionDoc) toDomain() domain.Promotion {
	promo := domain.Promotion{
		ID:                  p.ID,
		Code:                p.Code,
		Name:                p.Name,
		Type:                domain.PromotionType(p.Type),
		Active:              boolOr(p.Active, true),
		MinOrderValue:       p.MinOrderValue,
		StartsAt:            p.StartsAt,
		EndsAt:              p.EndsAt,
		MaxTotalUsage:       p.MaxTotalUsage,
		MaxUsagePerCustomer: p.MaxUsagePerCustomer,
		Items: domain.ItemScope{
			AllItems:      p.Items.All,
			ItemIDs:       p.Items.IDs,
			AllCategories: p.Items.AllCategories,
			CategoryIDs:   p.Items.CategoryIDs,
		},
		Combos: domain.ComboScope{AllCombos: p.Combos.All, ComboIDs: p.Combos.IDs},
		Customers: domain.CustomerScope{
			AllCustomers:      p.Customers.All,
			AllCustomerGroups: p.Customers.AllGroups,
			CustomerIDs:       p.Customers.IDs,
			CustomerGroupIDs:  p.Customers.GroupIDs,
			ApplyToWalkIn:     p.Customers.ApplyToWalkIn,
		},
	}
	switch promo.Type {
	case domain.PromotionTypePercentage:
		promo.Percentage = &domain.PercentageRule{Percent: p.Percent, MaxDiscount: p.MaxDiscount}
	case domain.PromotionTypeFixedAmount:
		promo.FixedAmount = &domain.FixedAmountRule{Amount: p.Amount}
	case domain.PromotionTypeFixedPrice:
		promo.FixedPrice = &domain.FixedPriceRule{Price: p.Price}
	case domain.PromotionTypeGift:
		if p.Gift != nil {
			rule := &domain.GiftRule{BuyQuantity: p.Gift.Buy, GetQuantity: p.Gift.Get, RequireSameItem: p.Gift.RequireSameItem}
			for _, opt := range p.Gift.Options {
				rule.Gifts = append(rule.Gifts, domain.GiftOption{ItemID: opt.ItemID, Name: opt.Name, MaxQuantity: opt.MaxQuantity})
			}
			promo.Gift = rule
		}
	}
	return promo
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
