// Package memory holds an in-memory Repository used by tests and by local
// development when no database is configured. Semantics track the postgres
// store, including name uniqueness, reference checks and the all-or-nothing
// stock debit on sale creation.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/store"
	"comanda/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	materials     map[string]domain.RawMaterial
	materialOrder []string

	dishes    map[string]domain.Dish
	dishOrder []string

	sales     map[string]domain.Sale
	saleOrder []string

	auditLogs []domain.AuditLog
}

func New() *Store {
	return &Store{
		materials: make(map[string]domain.RawMaterial),
		dishes:    make(map[string]domain.Dish),
		sales:     make(map[string]domain.Sale),
	}
}

// NewSeeded returns a store preloaded with a small pantry and menu, enough
// to click through the API without any setup.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	tomato, _ := s.CreateRawMaterial(ctx, domain.RawMaterial{Name: "Tomato", Quantity: 10, Unit: "kg", MinQuantity: 2})
	salad, _ := s.CreateRawMaterial(ctx, domain.RawMaterial{Name: "Salad", Quantity: 5, Unit: "kg", MinQuantity: 1})
	bun, _ := s.CreateRawMaterial(ctx, domain.RawMaterial{Name: "Burger Bun", Quantity: 40, Unit: "pcs", MinQuantity: 10})
	patty, _ := s.CreateRawMaterial(ctx, domain.RawMaterial{Name: "Beef Patty", Quantity: 30, Unit: "pcs", MinQuantity: 8})

	if tomato != nil && salad != nil {
		_, _ = s.CreateDish(ctx, domain.Dish{Name: "Garden Salad", PriceCents: 650}, []domain.RecipeLine{
			{RawMaterialID: tomato.ID, Quantity: 0.2, Unit: "kg"},
			{RawMaterialID: salad.ID, Quantity: 0.15, Unit: "kg"},
		})
	}
	if bun != nil && patty != nil && tomato != nil {
		_, _ = s.CreateDish(ctx, domain.Dish{Name: "Burger", PriceCents: 1200}, []domain.RecipeLine{
			{RawMaterialID: bun.ID, Quantity: 1, Unit: "pcs"},
			{RawMaterialID: patty.ID, Quantity: 1, Unit: "pcs"},
			{RawMaterialID: tomato.ID, Quantity: 0.05, Unit: "kg"},
		})
	}

	return s
}

func (s *Store) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	materials := make([]domain.RawMaterial, 0, len(s.materialOrder))
	for _, id := range s.materialOrder {
		materials = append(materials, s.materials[id])
	}
	sort.Slice(materials, func(i, j int) bool {
		return strings.ToLower(materials[i].Name) < strings.ToLower(materials[j].Name)
	})
	return materials, nil
}

func (s *Store) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	if material.Name == "" || material.Unit == "" || material.Quantity < 0 || material.MinQuantity < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.materials {
		if strings.EqualFold(existing.Name, material.Name) {
			return nil, store.ErrConstraint
		}
	}

	if material.ID == "" {
		material.ID = xid.New("rm")
	}
	now := time.Now().UTC()
	material.CreatedAt = now
	material.UpdatedAt = now

	s.materials[material.ID] = material
	s.materialOrder = append(s.materialOrder, material.ID)

	created := material
	return &created, nil
}

func (s *Store) GetRawMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	material, ok := s.materials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &material, nil
}

func (s *Store) UpdateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	if material.ID == "" || material.Name == "" || material.Unit == "" || material.Quantity < 0 || material.MinQuantity < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.materials[material.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.materials {
		if id != material.ID && strings.EqualFold(existing.Name, material.Name) {
			return nil, store.ErrConstraint
		}
	}

	material.CreatedAt = current.CreatedAt
	material.UpdatedAt = time.Now().UTC()
	s.materials[material.ID] = material

	updated := material
	return &updated, nil
}

func (s *Store) DeleteRawMaterial(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.materials[id]; !ok {
		return store.ErrNotFound
	}
	for _, dish := range s.dishes {
		for _, ing := range dish.Ingredients {
			if ing.RawMaterialID == id {
				return store.ErrConstraint
			}
		}
	}

	delete(s.materials, id)
	for i, existing := range s.materialOrder {
		if existing == id {
			s.materialOrder = append(s.materialOrder[:i], s.materialOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListLowStockRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.RawMaterial, 0)
	for _, id := range s.materialOrder {
		m := s.materials[id]
		if m.MinQuantity > 0 && m.Quantity <= m.MinQuantity {
			low = append(low, m)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		ri := low[i].Quantity / low[i].MinQuantity
		rj := low[j].Quantity / low[j].MinQuantity
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(low[i].Name) < strings.ToLower(low[j].Name)
	})
	return low, nil
}

func (s *Store) ListDishes(ctx context.Context) ([]domain.Dish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dishes := make([]domain.Dish, 0, len(s.dishOrder))
	for _, id := range s.dishOrder {
		dishes = append(dishes, cloneDish(s.dishes[id]))
	}
	sort.Slice(dishes, func(i, j int) bool {
		return strings.ToLower(dishes[i].Name) < strings.ToLower(dishes[j].Name)
	})
	return dishes, nil
}

func (s *Store) CreateDish(ctx context.Context, dish domain.Dish, lines []domain.RecipeLine) (*domain.Dish, error) {
	if dish.Name == "" || dish.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	for _, line := range lines {
		if line.RawMaterialID == "" || line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.dishes {
		if strings.EqualFold(existing.Name, dish.Name) {
			return nil, store.ErrConstraint
		}
	}

	ingredients, err := s.resolveLinesLocked(lines)
	if err != nil {
		return nil, err
	}

	if dish.ID == "" {
		dish.ID = xid.New("dish")
	}
	now := time.Now().UTC()
	dish.CreatedAt = now
	dish.UpdatedAt = now
	dish.Ingredients = ingredients

	s.dishes[dish.ID] = dish
	s.dishOrder = append(s.dishOrder, dish.ID)

	created := cloneDish(dish)
	return &created, nil
}

// resolveLinesLocked turns recipe lines into ingredients with material names
// attached, rejecting duplicate or unknown material references. Caller holds
// the write lock.
func (s *Store) resolveLinesLocked(lines []domain.RecipeLine) ([]domain.Ingredient, error) {
	seen := make(map[string]bool, len(lines))
	ingredients := make([]domain.Ingredient, 0, len(lines))
	for _, line := range lines {
		if seen[line.RawMaterialID] {
			return nil, store.ErrConstraint
		}
		seen[line.RawMaterialID] = true

		material, ok := s.materials[line.RawMaterialID]
		if !ok {
			return nil, store.ErrConstraint
		}
		unit := line.Unit
		if unit == "" {
			unit = material.Unit
		}
		ingredients = append(ingredients, domain.Ingredient{
			RawMaterialID:   line.RawMaterialID,
			Name:            material.Name,
			QuantityPerUnit: line.Quantity,
			Unit:            unit,
		})
	}
	sort.Slice(ingredients, func(i, j int) bool {
		return strings.ToLower(ingredients[i].Name) < strings.ToLower(ingredients[j].Name)
	})
	return ingredients, nil
}

func (s *Store) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dish, ok := s.dishes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneDish(dish)
	return &cloned, nil
}

func (s *Store) UpdateDish(ctx context.Context, dish domain.Dish, lines *[]domain.RecipeLine) (*domain.Dish, error) {
	if dish.ID == "" || dish.Name == "" || dish.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if lines != nil {
		for _, line := range *lines {
			if line.RawMaterialID == "" || line.Quantity <= 0 {
				return nil, store.ErrInvalidInput
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.dishes[dish.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for id, existing := range s.dishes {
		if id != dish.ID && strings.EqualFold(existing.Name, dish.Name) {
			return nil, store.ErrConstraint
		}
	}

	ingredients := current.Ingredients
	if lines != nil {
		resolved, err := s.resolveLinesLocked(*lines)
		if err != nil {
			return nil, err
		}
		ingredients = resolved
	}

	dish.CreatedAt = current.CreatedAt
	dish.UpdatedAt = time.Now().UTC()
	dish.Ingredients = ingredients
	s.dishes[dish.ID] = dish

	updated := cloneDish(dish)
	return &updated, nil
}

func (s *Store) DeleteDish(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dishes[id]; !ok {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		if sale.DishID == id {
			return store.ErrConstraint
		}
	}

	delete(s.dishes, id)
	for i, existing := range s.dishOrder {
		if existing == id {
			s.dishOrder = append(s.dishOrder[:i], s.dishOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) GetDishIngredients(ctx context.Context, dishID string) ([]domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dish, ok := s.dishes[dishID]
	if !ok {
		return nil, store.ErrNotFound
	}
	ingredients := make([]domain.Ingredient, len(dish.Ingredients))
	copy(ingredients, dish.Ingredients)
	return ingredients, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.DishID == "" || sale.Quantity < 1 || sale.TotalCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dish, ok := s.dishes[sale.DishID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.ID != "" {
		// A reused id must fail before any debit, the way the postgres
		// primary key rolls the whole transaction back.
		if _, exists := s.sales[sale.ID]; exists {
			return nil, store.ErrConstraint
		}
	}

	// Collect every shortfall before touching stock so the caller sees the
	// full picture and a failed sale leaves quantities untouched.
	shortfalls := make([]domain.Shortfall, 0)
	for _, ing := range dish.Ingredients {
		required := ing.QuantityPerUnit * float64(sale.Quantity)
		material := s.materials[ing.RawMaterialID]
		if material.Quantity < required {
			shortfalls = append(shortfalls, domain.Shortfall{
				RawMaterialID: ing.RawMaterialID,
				Name:          material.Name,
				Required:      required,
				Available:     material.Quantity,
				Unit:          ing.Unit,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &store.InsufficientStockError{Shortfalls: shortfalls}
	}

	now := time.Now().UTC()
	for _, ing := range dish.Ingredients {
		material := s.materials[ing.RawMaterialID]
		material.Quantity -= ing.QuantityPerUnit * float64(sale.Quantity)
		material.UpdatedAt = now
		s.materials[ing.RawMaterialID] = material
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = now
	}
	sale.CreatedAt = now
	sale.DishName = dish.Name

	s.sales[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)

	created := sale
	return &created, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Credit back exactly what the sale debited. The dish recipe may have
	// changed since; the current recipe is the ledger we have.
	if dish, ok := s.dishes[sale.DishID]; ok {
		now := time.Now().UTC()
		for _, ing := range dish.Ingredients {
			material := s.materials[ing.RawMaterialID]
			material.Quantity += ing.QuantityPerUnit * float64(sale.Quantity)
			material.UpdatedAt = now
			s.materials[ing.RawMaterialID] = material
		}
	}

	delete(s.sales, id)
	for i, existing := range s.saleOrder {
		if existing == id {
			s.saleOrder = append(s.saleOrder[:i], s.saleOrder[i+1:]...)
			break
		}
	}

	deleted := sale
	return &deleted, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.sales[id]
		if inRange(sale.SoldAt, from, to) {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].SoldAt.Equal(sales[j].SoldAt) {
			return sales[i].SoldAt.After(sales[j].SoldAt)
		}
		return sales[i].ID > sales[j].ID
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSalesTotal(ctx context.Context, from time.Time, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, sale := range s.sales {
		if inRange(sale.SoldAt, from, to) {
			total += sale.TotalCents
		}
	}
	return total, nil
}

func (s *Store) GetTopDishes(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopDish, error) {
	if limit < 1 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, sale := range s.sales {
		if inRange(sale.SoldAt, from, to) {
			totals[sale.DishID] += int64(sale.Quantity)
		}
	}

	type rankedDish struct {
		order int
		name  string
		total int64
	}
	ranked := make([]rankedDish, 0, len(totals))
	for order, dishID := range s.dishOrder {
		total, ok := totals[dishID]
		if !ok {
			continue
		}
		name := s.dishes[dishID].Name
		if name == "" {
			continue
		}
		ranked = append(ranked, rankedDish{order: order, name: name, total: total})
	}
	// Ties resolve in dish creation order, matching the postgres store's
	// created_at tie-break.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].total != ranked[j].total {
			return ranked[i].total > ranked[j].total
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	top := make([]domain.TopDish, 0, len(ranked))
	for _, row := range ranked {
		top = append(top, domain.TopDish{Name: row.name, TotalQuantity: row.total})
	}
	return top, nil
}

func (s *Store) GetRawMaterialUsage(ctx context.Context, from time.Time, to time.Time) ([]domain.RawMaterialUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type usageRow struct {
		name  string
		unit  string
		total float64
	}
	totals := make(map[string]*usageRow)
	for _, sale := range s.sales {
		if !inRange(sale.SoldAt, from, to) {
			continue
		}
		dish, ok := s.dishes[sale.DishID]
		if !ok {
			continue
		}
		for _, ing := range dish.Ingredients {
			row, ok := totals[ing.RawMaterialID]
			if !ok {
				row = &usageRow{name: ing.Name, unit: ing.Unit}
				totals[ing.RawMaterialID] = row
			}
			row.total += ing.QuantityPerUnit * float64(sale.Quantity)
		}
	}

	usage := make([]domain.RawMaterialUsage, 0, len(totals))
	for _, row := range totals {
		usage = append(usage, domain.RawMaterialUsage{Name: row.name, Unit: row.unit, TotalUsed: row.total})
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].TotalUsed != usage[j].TotalUsed {
			return usage[i].TotalUsed > usage[j].TotalUsed
		}
		return usage[i].Name < usage[j].Name
	})
	return usage, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if inRange(entry.CreatedAt, from, to) {
			logs = append(logs, entry)
		}
	}
	return logs, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func cloneDish(dish domain.Dish) domain.Dish {
	cloned := dish
	cloned.Ingredients = make([]domain.Ingredient, len(dish.Ingredients))
	copy(cloned.Ingredients, dish.Ingredients)
	return cloned
}
