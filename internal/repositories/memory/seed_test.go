package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/finitefield/pos-api/internal/domain"
)

const sampleSeed = `
catalog:
  - id: itm_pho
    name: Pho bo
    categoryId: cat_noodle
    sellingPrice: 65000
    recipe:
      - ingredientId: ing_beef
        quantity: "0.15"
        avgUnitCost: 200000
      - ingredientId: ing_noodle
        quantity: "0.2"
        avgUnitCost: 25000
  - id: itm_egg
    name: Egg
    sellingPrice: 8000
    avgUnitCost: 3000
    active: false
combos:
  - id: cmb_breakfast
    comboPrice: 70000
    members:
      - itemId: itm_pho
      - itemId: itm_egg
        extraPrice: 2000
tables:
  - id: tbl_1
    name: Table 1
promotions:
  - id: prm_lunch
    code: " lunch 10 "
    type: PERCENTAGE
    percent: 10
    maxDiscount: 50000
    items:
      all: true
    customers:
      all: true
      walkIn: true
  - id: prm_gift
    type: GIFT
    gift:
      buy: 2
      get: 1
      options:
        - itemId: itm_egg
          maxQuantity: 2
    items:
      ids: [itm_pho]
    customers:
      walkIn: true
customerGroups:
  - id: grp_gold
    minSpent: 1000000
    minOrders: 10
    priority: 2
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(sampleSeed))
	require.NoError(t, err)

	require.Len(t, seed.CatalogItems, 2)
	assert.True(t, seed.CatalogItems[0].Active)
	assert.False(t, seed.CatalogItems[1].Active)

	require.Len(t, seed.Recipes, 1)
	assert.Equal(t, "0.15", seed.Recipes[0].Ingredients[0].Quantity.String())

	require.Len(t, seed.Combos, 1)
	member, ok := seed.Combos[0].Member("itm_egg")
	require.True(t, ok)
	assert.Equal(t, int64(2000), member.ExtraPrice)

	require.Len(t, seed.Promotions, 2)
	assert.Equal(t, int64(10), seed.Promotions[0].Percentage.Percent)
	assert.Equal(t, 2, seed.Promotions[1].Gift.BuyQuantity)
	assert.Equal(t, domain.PromotionClassItem, seed.Promotions[1].Class())
}

func TestParseSeedRejectsInvalidPromotion(t *testing.T) {
	_, err := ParseSeed([]byte(`
promotions:
  - id: prm_bad
    type: PERCENTAGE
    percent: 120
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prm_bad")
}

func TestParseSeedRejectsBadQuantity(t *testing.T) {
	_, err := ParseSeed([]byte(`
catalog:
  - id: itm_x
    recipe:
      - ingredientId: ing_x
        quantity: lots
`))
	require.Error(t, err)
}

func TestLoadSeedFileAppliesNormalizedCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSeed), 0o600))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)
	reg := NewRegistry(WithSeed(seed))

	promo, err := reg.Promotions().FindByCode(context.Background(), "LUNCH10")
	require.NoError(t, err)
	assert.Equal(t, "prm_lunch", promo.ID)

	table, err := reg.Tables().GetTable(context.Background(), "tbl_1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableStatusAvailable, table.Status)
}
