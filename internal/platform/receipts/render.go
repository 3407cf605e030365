package receipts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/finitefield/pos-api/internal/domain"
)

const lineWidth = 42

// Render produces the plain-text receipt for a settled order. Canceled lines are omitted and toppings
// are indented under their parent.
func Render(order domain.Order, currency string, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	rule := strings.Repeat("-", lineWidth)

	fmt.Fprintf(&b, "Order %s\n", order.Code)
	if order.TableID != nil {
		fmt.Fprintf(&b, "Table %s\n", *order.TableID)
	}
	at := order.UpdatedAt
	if order.CompletedAt != nil {
		at = *order.CompletedAt
	}
	fmt.Fprintf(&b, "%s\n%s\n", at.In(loc).Format("2006-01-02 15:04"), rule)

	children := make(map[string][]domain.OrderItem)
	for _, item := range order.Items {
		if item.ParentItemID != nil && item.Live() {
			children[*item.ParentItemID] = append(children[*item.ParentItemID], item)
		}
	}
	for _, item := range order.Items {
		if !item.Live() || item.ParentItemID != nil {
			continue
		}
		writeLine(&b, "", item)
		for _, child := range children[item.ID] {
			writeLine(&b, "  + ", child)
		}
	}

	b.WriteString(rule + "\n")
	writeAmount(&b, "Subtotal", order.Subtotal, currency)
	if order.DiscountAmount > 0 {
		label := "Discount"
		if order.Promotion != nil && order.Promotion.Code != "" {
			label = "Discount " + order.Promotion.Code
		}
		writeAmount(&b, label, -order.DiscountAmount, currency)
	}
	writeAmount(&b, "Total", order.TotalAmount, currency)
	if order.PaymentMethod != nil {
		writeAmount(&b, "Paid "+strings.ToLower(string(*order.PaymentMethod)), order.PaidAmount, currency)
	}
	if order.ChangeAmount > 0 {
		writeAmount(&b, "Change", order.ChangeAmount, currency)
	}
	return []byte(b.String())
}

func writeLine(b *strings.Builder, indent string, item domain.OrderItem) {
	label := fmt.Sprintf("%s%d x %s", indent, item.Quantity, item.Name)
	amount := FormatAmount(item.TotalPrice)
	if item.IsGift {
		amount = "gift"
	}
	writeColumns(b, label, amount)
}

func writeAmount(b *strings.Builder, label string, amount int64, currency string) {
	writeColumns(b, label, FormatAmount(amount)+" "+currency)
}

func writeColumns(b *strings.Builder, left, right string) {
	pad := lineWidth - len(left) - len(right)
	if pad < 1 {
		pad = 1
	}
	b.WriteString(left + strings.Repeat(" ", pad) + right + "\n")
}

// FormatAmount groups thousands with commas: 1234500 -> "1,234,500".
func FormatAmount(amount int64) string {
	raw := decimal.NewFromInt(amount).Abs().String()
	var out strings.Builder
	if amount < 0 {
		out.WriteByte('-')
	}
	for i, r := range raw {
		if i > 0 && (len(raw)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(r)
	}
	return out.String()
}
