package services

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusInProgress, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusInProgress: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// SERVED only leaves through a void.
var itemStateTransitions = map[domain.OrderItemStatus][]domain.OrderItemStatus{
	domain.ItemStatusPending:           {domain.ItemStatusPreparing, domain.ItemStatusCanceled},
	domain.ItemStatusPreparing:         {domain.ItemStatusCompleted, domain.ItemStatusWaitingIngredient, domain.ItemStatusOutOfStock, domain.ItemStatusCanceled},
	domain.ItemStatusWaitingIngredient: {domain.ItemStatusPreparing, domain.ItemStatusCanceled},
	domain.ItemStatusOutOfStock:        {domain.ItemStatusPreparing, domain.ItemStatusCanceled},
	domain.ItemStatusCompleted:         {domain.ItemStatusServed, domain.ItemStatusCanceled},
	domain.ItemStatusServed:            {domain.ItemStatusCanceled},
}

func canTransitionOrder(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func canTransitionItem(current, target domain.OrderItemStatus) bool {
	return slices.Contains(itemStateTransitions[current], target)
}

// OrderAggregate wraps an order and indexes its item arena by id. It is not safe for concurrent use;
// callers hold it only inside a unit of work.
type OrderAggregate struct {
	order domain.Order
	index map[string]int
	newID func() string
	now   time.Time
}

// ReduceResult describes the rows affected by reduceItem.
type ReduceResult struct {
	// Canceled is the canceled row: the original item on a full cancel, a new split row otherwise.
	Canceled          domain.OrderItem
	PreviousStatus    domain.OrderItemStatus
	CanceledQuantity  int
	Full              bool
	CanceledToppings  []domain.OrderItem
	RemainingQuantity int
}

// NewOrderAggregate takes ownership of a copy of order.
func NewOrderAggregate(order domain.Order, newItemID func() string, now time.Time) *OrderAggregate {
	a := &OrderAggregate{
		order: cloneOrder(order),
		newID: newItemID,
		now:   now,
	}
	a.reindex()
	return a
}

// Order returns a copy of the current state.
func (a *OrderAggregate) Order() domain.Order {
	return cloneOrder(a.order)
}

// ID returns the order id.
func (a *OrderAggregate) ID() string { return a.order.ID }

// Status returns the order status.
func (a *OrderAggregate) Status() domain.OrderStatus { return a.order.Status }

// Item returns a copy of the item with the given id.
func (a *OrderAggregate) Item(itemID string) (domain.OrderItem, bool) {
	idx, ok := a.index[itemID]
	if !ok {
		return domain.OrderItem{}, false
	}
	return cloneItem(a.order.Items[idx]), true
}

// Items returns copies of every item, canceled rows included.
func (a *OrderAggregate) Items() []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(a.order.Items))
	for _, item := range a.order.Items {
		out = append(out, cloneItem(item))
	}
	return out
}

// LiveToppings returns the non-canceled toppings attached to parentID.
func (a *OrderAggregate) LiveToppings(parentID string) []domain.OrderItem {
	var out []domain.OrderItem
	for _, item := range a.order.Items {
		if item.IsTopping && item.Live() && item.ParentItemID != nil && *item.ParentItemID == parentID {
			out = append(out, cloneItem(item))
		}
	}
	return out
}

// EnsureOpen rejects mutation of COMPLETED or CANCELLED orders.
func (a *OrderAggregate) EnsureOpen() error {
	if a.order.Status.IsClosed() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderClosed, a.order.ID, a.order.Status)
	}
	return nil
}

// AddItem appends a new line to the arena. Toppings must reference a live, non-topping parent.
func (a *OrderAggregate) AddItem(item domain.OrderItem) (domain.OrderItem, error) {
	if err := a.EnsureOpen(); err != nil {
		return domain.OrderItem{}, err
	}
	if item.Quantity <= 0 {
		return domain.OrderItem{}, validationError("quantity must be positive")
	}
	if item.UnitPrice < 0 {
		return domain.OrderItem{}, validationError("unit price must not be negative")
	}
	if item.IsTopping {
		if item.ParentItemID == nil {
			return domain.OrderItem{}, validationError("topping requires a parent item")
		}
		parent, ok := a.Item(*item.ParentItemID)
		if !ok {
			return domain.OrderItem{}, notFound("order item", *item.ParentItemID)
		}
		if parent.IsTopping || !parent.Live() {
			return domain.OrderItem{}, validationError("topping parent %s must be a live main item", parent.ID)
		}
		item.ComboID = nil
	}
	if strings.TrimSpace(item.ID) == "" {
		item.ID = a.newID()
	}
	if _, exists := a.index[item.ID]; exists {
		return domain.OrderItem{}, fmt.Errorf("%w: item %s already exists", ErrConflict, item.ID)
	}
	if item.Status == "" {
		item.Status = domain.ItemStatusPending
	}
	item.TotalPrice = item.UnitPrice * int64(item.Quantity)
	item.CreatedAt = a.now
	item.UpdatedAt = a.now

	a.order.Items = append(a.order.Items, item)
	a.index[item.ID] = len(a.order.Items) - 1
	a.touch()
	a.RecomputeTotals()
	return cloneItem(item), nil
}

// UpdateItem applies mutate to a live item and recomputes its total. Quantity changes rescale toppings.
func (a *OrderAggregate) UpdateItem(itemID string, mutate func(*domain.OrderItem) error) (domain.OrderItem, error) {
	if err := a.EnsureOpen(); err != nil {
		return domain.OrderItem{}, err
	}
	idx, ok := a.index[itemID]
	if !ok {
		return domain.OrderItem{}, notFound("order item", itemID)
	}
	current := a.order.Items[idx]
	if !current.Live() {
		return domain.OrderItem{}, fmt.Errorf("%w: item %s is canceled", ErrInvalidStatusTransition, itemID)
	}
	before := current.Quantity
	candidate := cloneItem(current)
	if err := mutate(&candidate); err != nil {
		return domain.OrderItem{}, err
	}
	if candidate.Quantity <= 0 {
		return domain.OrderItem{}, validationError("quantity must be positive")
	}
	candidate.ID = current.ID
	candidate.Status = current.Status
	candidate.TotalPrice = candidate.UnitPrice * int64(candidate.Quantity)
	candidate.UpdatedAt = a.now
	a.order.Items[idx] = candidate
	updated := cloneItem(candidate)

	if before != updated.Quantity && !updated.IsTopping {
		for _, topping := range a.LiveToppings(itemID) {
			tIdx := a.index[topping.ID]
			t := &a.order.Items[tIdx]
			t.Quantity = t.Quantity / before * updated.Quantity
			if t.Quantity <= 0 {
				t.Quantity = updated.Quantity
			}
			t.TotalPrice = t.UnitPrice * int64(t.Quantity)
			t.UpdatedAt = a.now
		}
	}
	a.touch()
	a.RecomputeTotals()
	return updated, nil
}

// SetUnitPrice reprices a live item without structural checks; used by combo re-pricing.
func (a *OrderAggregate) SetUnitPrice(itemID string, unitPrice int64) {
	idx, ok := a.index[itemID]
	if !ok {
		return
	}
	item := &a.order.Items[idx]
	if !item.Live() {
		return
	}
	item.UnitPrice = unitPrice
	item.TotalPrice = unitPrice * int64(item.Quantity)
	item.UpdatedAt = a.now
}

// RemoveItem cancels the whole item; rows are never deleted.
func (a *OrderAggregate) RemoveItem(itemID, reason string) (ReduceResult, error) {
	item, ok := a.Item(itemID)
	if !ok {
		return ReduceResult{}, notFound("order item", itemID)
	}
	return a.ReduceItem(itemID, item.Quantity, reason)
}

// ReduceItem cancels quantity units of an item. A quantity at or above the remaining amount cancels the
// item and its toppings; a smaller one splits off a canceled row and shrinks the original.
func (a *OrderAggregate) ReduceItem(itemID string, quantity int, reason string) (ReduceResult, error) {
	if err := a.EnsureOpen(); err != nil {
		return ReduceResult{}, err
	}
	if quantity <= 0 {
		return ReduceResult{}, validationError("reduce quantity must be positive")
	}
	idx, ok := a.index[itemID]
	if !ok {
		return ReduceResult{}, notFound("order item", itemID)
	}
	item := &a.order.Items[idx]
	if !canTransitionItem(item.Status, domain.ItemStatusCanceled) {
		return ReduceResult{}, fmt.Errorf("%w: item %s is %s", ErrInvalidStatusTransition, itemID, item.Status)
	}

	result := ReduceResult{PreviousStatus: item.Status}
	reasonPtr := optionalString(strings.TrimSpace(reason))

	if quantity >= item.Quantity {
		result.Full = true
		result.CanceledQuantity = item.Quantity
		item.Status = domain.ItemStatusCanceled
		item.CancelReason = reasonPtr
		item.TotalPrice = item.UnitPrice * int64(item.Quantity)
		item.UpdatedAt = a.now
		result.Canceled = cloneItem(*item)

		if !item.IsTopping {
			for _, topping := range a.LiveToppings(itemID) {
				t := &a.order.Items[a.index[topping.ID]]
				t.Status = domain.ItemStatusCanceled
				t.CancelReason = reasonPtr
				t.UpdatedAt = a.now
				result.CanceledToppings = append(result.CanceledToppings, cloneItem(*t))
			}
		}
		a.touch()
		a.RecomputeTotals()
		return result, nil
	}

	before := item.Quantity
	item.Quantity -= quantity
	item.TotalPrice = item.UnitPrice * int64(item.Quantity)
	item.UpdatedAt = a.now

	canceled := cloneItem(*item)
	canceled.ID = a.newID()
	canceled.Quantity = quantity
	canceled.TotalPrice = canceled.UnitPrice * int64(quantity)
	canceled.Status = domain.ItemStatusCanceled
	canceled.CancelReason = reasonPtr
	canceled.CreatedAt = a.now
	a.appendRow(canceled)

	if !canceled.IsTopping {
		a.splitToppings(itemID, canceled.ID, quantity, before, domain.ItemStatusCanceled, reasonPtr)
	}

	result.Canceled = canceled
	result.CanceledQuantity = quantity
	result.RemainingQuantity = before - quantity
	a.touch()
	a.RecomputeTotals()
	return result, nil
}

// ChangeItemStatus moves quantity units of an item to target. Zero or the full quantity moves the whole
// row; less splits off a new row in the target state. Toppings follow their parent in lockstep.
func (a *OrderAggregate) ChangeItemStatus(itemID string, target domain.OrderItemStatus, quantity int) (domain.OrderItem, error) {
	if err := a.EnsureOpen(); err != nil {
		return domain.OrderItem{}, err
	}
	idx, ok := a.index[itemID]
	if !ok {
		return domain.OrderItem{}, notFound("order item", itemID)
	}
	item := &a.order.Items[idx]
	if item.IsTopping {
		return domain.OrderItem{}, validationError("topping status follows its parent item")
	}
	if !canTransitionItem(item.Status, target) {
		return domain.OrderItem{}, fmt.Errorf("%w: item %s cannot move from %s to %s", ErrInvalidStatusTransition, itemID, item.Status, target)
	}
	if quantity < 0 {
		return domain.OrderItem{}, validationError("status quantity must not be negative")
	}

	if quantity == 0 || quantity >= item.Quantity {
		item.Status = target
		item.UpdatedAt = a.now
		moved := cloneItem(*item)
		for _, topping := range a.LiveToppings(itemID) {
			t := &a.order.Items[a.index[topping.ID]]
			t.Status = target
			t.UpdatedAt = a.now
		}
		a.touch()
		a.RecomputeTotals()
		return moved, nil
	}

	before := item.Quantity
	item.Quantity -= quantity
	item.TotalPrice = item.UnitPrice * int64(item.Quantity)
	item.UpdatedAt = a.now

	moved := cloneItem(*item)
	moved.ID = a.newID()
	moved.Quantity = quantity
	moved.TotalPrice = moved.UnitPrice * int64(quantity)
	moved.Status = target
	moved.CreatedAt = a.now
	a.appendRow(moved)
	a.splitToppings(itemID, moved.ID, quantity, before, target, nil)

	a.touch()
	a.RecomputeTotals()
	return moved, nil
}

// SplitOff detaches quantity units of a live main item, with toppings in lockstep, returning the rows
// to re-attach on another order.
func (a *OrderAggregate) SplitOff(itemID string, quantity int) ([]domain.OrderItem, error) {
	if err := a.EnsureOpen(); err != nil {
		return nil, err
	}
	idx, ok := a.index[itemID]
	if !ok {
		return nil, notFound("order item", itemID)
	}
	item := a.order.Items[idx]
	if item.IsTopping {
		return nil, validationError("toppings move with their parent item")
	}
	if item.IsGift {
		return nil, validationError("gift item %s stays with its promotion", itemID)
	}
	if !item.Live() {
		return nil, validationError("item %s is canceled", itemID)
	}
	if quantity <= 0 {
		return nil, validationError("split quantity must be positive")
	}
	if quantity >= item.Quantity {
		return a.Detach(itemID), nil
	}

	row := &a.order.Items[idx]
	before := row.Quantity
	row.Quantity -= quantity
	row.TotalPrice = row.UnitPrice * int64(row.Quantity)
	row.UpdatedAt = a.now

	moved := cloneItem(*row)
	moved.ID = a.newID()
	moved.Quantity = quantity
	moved.TotalPrice = moved.UnitPrice * int64(quantity)
	moved.CreatedAt = a.now
	a.appendRow(moved)
	a.splitToppings(itemID, moved.ID, quantity, before, "", nil)
	return a.Detach(moved.ID), nil
}

// Detach removes a main item and its toppings from the arena and returns them.
func (a *OrderAggregate) Detach(itemID string) []domain.OrderItem {
	var detached []domain.OrderItem
	kept := a.order.Items[:0:0]
	for _, item := range a.order.Items {
		if item.ID == itemID || (item.ParentItemID != nil && *item.ParentItemID == itemID) {
			detached = append(detached, cloneItem(item))
			continue
		}
		kept = append(kept, item)
	}
	a.order.Items = kept
	a.reindex()
	a.touch()
	a.RecomputeTotals()
	return detached
}

// Attach inserts rows moved from another order, keeping their ids and parent links.
func (a *OrderAggregate) Attach(items []domain.OrderItem) error {
	if err := a.EnsureOpen(); err != nil {
		return err
	}
	for _, item := range items {
		if _, exists := a.index[item.ID]; exists {
			return fmt.Errorf("%w: item %s already exists", ErrConflict, item.ID)
		}
		item.UpdatedAt = a.now
		a.appendRow(item)
	}
	a.touch()
	a.RecomputeTotals()
	return nil
}

// LiveMainItemIDs returns ids of non-canceled, non-topping rows in arena order.
func (a *OrderAggregate) LiveMainItemIDs() []string {
	var ids []string
	for _, item := range a.order.Items {
		if item.Live() && !item.IsTopping {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// ComboIDs returns the distinct combos with live members, in first-seen order.
func (a *OrderAggregate) ComboIDs() []string {
	var ids []string
	for _, item := range a.order.Items {
		if item.Live() && item.ComboID != nil && !slices.Contains(ids, *item.ComboID) {
			ids = append(ids, *item.ComboID)
		}
	}
	return ids
}

// ComboMembers returns the live rows priced inside comboID.
func (a *OrderAggregate) ComboMembers(comboID string) []domain.OrderItem {
	var out []domain.OrderItem
	for _, item := range a.order.Items {
		if item.Live() && !item.IsTopping && item.ComboID != nil && *item.ComboID == comboID {
			out = append(out, cloneItem(item))
		}
	}
	return out
}

// RecomputeTotals restores subtotal = Σ live totals and total = max(0, subtotal − discount).
func (a *OrderAggregate) RecomputeTotals() {
	var subtotal int64
	for _, item := range a.order.Items {
		if item.Live() {
			subtotal += item.TotalPrice
		}
	}
	a.order.Subtotal = subtotal
	if a.order.DiscountAmount < 0 {
		a.order.DiscountAmount = 0
	}
	a.order.TotalAmount = max(0, subtotal-a.order.DiscountAmount)
}

// SetDiscount replaces the discount and recomputes totals.
func (a *OrderAggregate) SetDiscount(promotion *domain.AppliedPromotion, discount int64) {
	a.order.Promotion = promotion
	a.order.DiscountAmount = discount
	a.touch()
	a.RecomputeTotals()
}

// Promotion returns the applied promotion snapshot, if any.
func (a *OrderAggregate) Promotion() *domain.AppliedPromotion {
	if a.order.Promotion == nil {
		return nil
	}
	promo := *a.order.Promotion
	return &promo
}

// TransitionTo moves the order through its state machine.
func (a *OrderAggregate) TransitionTo(target domain.OrderStatus) error {
	current := a.order.Status
	if current == target {
		return nil
	}
	if current.IsClosed() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderClosed, a.order.ID, current)
	}
	if !canTransitionOrder(current, target) {
		return fmt.Errorf("%w: order %s → %s", ErrInvalidStatusTransition, current, target)
	}
	a.order.Status = target
	now := a.now
	switch target {
	case domain.OrderStatusInProgress:
		if a.order.SentToKitchenAt == nil {
			a.order.SentToKitchenAt = &now
		}
	case domain.OrderStatusCompleted:
		a.order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		a.order.CanceledAt = &now
	}
	a.touch()
	return nil
}

// ShouldAutoCancel reports whether every non-gift item of a non-empty open order is canceled.
func (a *OrderAggregate) ShouldAutoCancel() bool {
	if a.order.Status.IsClosed() {
		return false
	}
	seen := false
	for _, item := range a.order.Items {
		if item.IsGift {
			continue
		}
		seen = true
		if item.Live() {
			return false
		}
	}
	return seen
}

// Mutate exposes the order header for field updates that carry no invariants.
func (a *OrderAggregate) Mutate(fn func(*domain.Order)) {
	fn(&a.order)
	a.touch()
	a.RecomputeTotals()
}

func (a *OrderAggregate) splitToppings(parentID, newParentID string, moved, parentBefore int, status domain.OrderItemStatus, reason *string) {
	if parentBefore <= 0 {
		return
	}
	for _, topping := range a.LiveToppings(parentID) {
		t := &a.order.Items[a.index[topping.ID]]
		share := t.Quantity * moved / parentBefore
		if share <= 0 {
			continue
		}
		t.Quantity -= share
		t.TotalPrice = t.UnitPrice * int64(t.Quantity)
		t.UpdatedAt = a.now

		row := cloneItem(*t)
		row.ID = a.newID()
		row.ParentItemID = valuePtr(newParentID)
		row.Quantity = share
		row.TotalPrice = row.UnitPrice * int64(share)
		if status != "" {
			row.Status = status
		}
		row.CancelReason = reason
		row.CreatedAt = a.now
		a.appendRow(row)
	}
}

func (a *OrderAggregate) appendRow(item domain.OrderItem) {
	a.order.Items = append(a.order.Items, item)
	a.index[item.ID] = len(a.order.Items) - 1
}

func (a *OrderAggregate) reindex() {
	a.index = make(map[string]int, len(a.order.Items))
	for i, item := range a.order.Items {
		a.index[item.ID] = i
	}
}

func (a *OrderAggregate) touch() {
	a.order.UpdatedAt = a.now
}

func cloneOrder(order domain.Order) domain.Order {
	cloned := order
	cloned.TableID = cloneStringPtr(order.TableID)
	cloned.CustomerID = cloneStringPtr(order.CustomerID)
	cloned.PaymentRef = cloneStringPtr(order.PaymentRef)
	cloned.CancelReason = cloneStringPtr(order.CancelReason)
	cloned.MergedInto = cloneStringPtr(order.MergedInto)
	cloned.SplitFrom = cloneStringPtr(order.SplitFrom)
	if order.PaymentMethod != nil {
		cloned.PaymentMethod = valuePtr(*order.PaymentMethod)
	}
	if order.Promotion != nil {
		cloned.Promotion = valuePtr(*order.Promotion)
	}
	cloned.Items = make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		cloned.Items = append(cloned.Items, cloneItem(item))
	}
	return cloned
}

func cloneItem(item domain.OrderItem) domain.OrderItem {
	cloned := item
	cloned.CatalogItemID = cloneStringPtr(item.CatalogItemID)
	cloned.CategoryID = cloneStringPtr(item.CategoryID)
	cloned.ComboID = cloneStringPtr(item.ComboID)
	cloned.ParentItemID = cloneStringPtr(item.ParentItemID)
	cloned.CancelReason = cloneStringPtr(item.CancelReason)
	if item.Customization != nil {
		cloned.Customization = maps.Clone(item.Customization)
	}
	return cloned
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
