package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/store"
	"comanda/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.New(), nil)
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func mustCreateMaterial(t *testing.T, svc *Service, name string, quantity float64, unit string) domain.RawMaterial {
	t.Helper()
	material, err := svc.CreateRawMaterial(adminContext(), domain.RawMaterialCreateRequest{
		Name:     name,
		Quantity: quantity,
		Unit:     unit,
	})
	if err != nil {
		t.Fatalf("create raw material %s: %v", name, err)
	}
	return material
}

func mustCreateDish(t *testing.T, svc *Service, name string, priceCents int64, lines []domain.RecipeLine) domain.Dish {
	t.Helper()
	dish, err := svc.CreateDish(adminContext(), domain.DishCreateRequest{
		Name:        name,
		PriceCents:  priceCents,
		Ingredients: lines,
	})
	if err != nil {
		t.Fatalf("create dish %s: %v", name, err)
	}
	return dish
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func TestRawMaterialLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	created := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}

	fetched, err := svc.GetRawMaterial(ctx, created.ID)
	if err != nil {
		t.Fatalf("get raw material: %v", err)
	}
	if fetched.Name != "Tomato" || fetched.Quantity != 10 || fetched.Unit != "kg" {
		t.Fatalf("unexpected material after create: %+v", fetched)
	}

	newQty := 12.5
	updated, err := svc.UpdateRawMaterial(ctx, created.ID, domain.RawMaterialUpdateRequest{Quantity: &newQty})
	if err != nil {
		t.Fatalf("update raw material: %v", err)
	}
	if updated.Quantity != 12.5 || updated.Name != "Tomato" {
		t.Fatalf("partial update lost fields: %+v", updated)
	}

	if err := svc.DeleteRawMaterial(ctx, created.ID); err != nil {
		t.Fatalf("delete raw material: %v", err)
	}
	if _, err := svc.GetRawMaterial(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCreateRawMaterialDuplicateNameConflicts(t *testing.T) {
	svc := newTestService()

	mustCreateMaterial(t, svc, "Tomato", 10, "kg")

	_, err := svc.CreateRawMaterial(adminContext(), domain.RawMaterialCreateRequest{
		Name:     "Tomato",
		Quantity: 3,
		Unit:     "kg",
	})
	if !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("expected ErrConstraint for duplicate name, got %v", err)
	}
}

func TestDeleteRawMaterialReferencedByDishConflicts(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 0.5, Unit: "kg"},
	})

	if err := svc.DeleteRawMaterial(ctx, tomato.ID); !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("expected ErrConstraint for referenced material, got %v", err)
	}
}

func TestCreateDishWithUnknownMaterialConflicts(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateDish(adminContext(), domain.DishCreateRequest{
		Name:       "Ghost Dish",
		PriceCents: 500,
		Ingredients: []domain.RecipeLine{
			{RawMaterialID: "rm-does-not-exist", Quantity: 1, Unit: "kg"},
		},
	})
	if !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("expected ErrConstraint for unknown material, got %v", err)
	}
}

func TestRecordSaleDebitsAndDeleteRestores(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1, Unit: "kg"},
	})

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 4})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if sale.TotalCents != 4*650 {
		t.Fatalf("expected derived total 2600, got %d", sale.TotalCents)
	}

	material, err := svc.GetRawMaterial(ctx, tomato.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if material.Quantity != 6 {
		t.Fatalf("expected stock 6 after debit, got %v", material.Quantity)
	}

	if _, err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	material, err = svc.GetRawMaterial(ctx, tomato.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if material.Quantity != 10 {
		t.Fatalf("expected stock restored to 10, got %v", material.Quantity)
	}
}

func TestRecordSaleInsufficientStockLeavesStockUntouched(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 2, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1.5, Unit: "kg"},
	})

	_, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 2})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if len(stockErr.Shortfalls) != 1 {
		t.Fatalf("expected one shortfall, got %d", len(stockErr.Shortfalls))
	}
	shortfall := stockErr.Shortfalls[0]
	if shortfall.Name != "Tomato" || shortfall.Required != 3 || shortfall.Available != 2 {
		t.Fatalf("unexpected shortfall: %+v", shortfall)
	}

	material, err := svc.GetRawMaterial(ctx, tomato.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if material.Quantity != 2 {
		t.Fatalf("failed sale must not change stock, got %v", material.Quantity)
	}

	sales, err := svc.ListSales(ctx, today(), today(), 50)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("failed sale must not be recorded, got %d sales", len(sales))
	}
}

func TestRecordSaleReportsEveryShortfall(t *testing.T) {
	svc := newTestService()

	tomato := mustCreateMaterial(t, svc, "Tomato", 1, "kg")
	cheese := mustCreateMaterial(t, svc, "Cheese", 0.1, "kg")
	pizza := mustCreateDish(t, svc, "Pizza", 1500, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 0.8, Unit: "kg"},
		{RawMaterialID: cheese.ID, Quantity: 0.2, Unit: "kg"},
	})

	_, err := svc.RecordSale(adminContext(), domain.SaleCreateRequest{DishID: pizza.ID, Quantity: 2})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(stockErr.Shortfalls) != 2 {
		t.Fatalf("expected both shortfalls reported, got %+v", stockErr.Shortfalls)
	}
}

func TestRecordSaleWithEmptyRecipeSucceeds(t *testing.T) {
	svc := newTestService()

	water := mustCreateDish(t, svc, "Bottled Water", 200, nil)

	sale, err := svc.RecordSale(adminContext(), domain.SaleCreateRequest{DishID: water.ID, Quantity: 3})
	if err != nil {
		t.Fatalf("sale of zero-recipe dish must succeed: %v", err)
	}
	if sale.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", sale.Quantity)
	}
}

func TestRecordSaleUnknownDishNotFound(t *testing.T) {
	svc := newTestService()

	total := int64(100)
	_, err := svc.RecordSale(adminContext(), domain.SaleCreateRequest{DishID: "dish-missing", Quantity: 1, TotalCents: &total})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordSaleExplicitZeroTotalIsComped(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1, Unit: "kg"},
	})

	comped := int64(0)
	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 1, TotalCents: &comped})
	if err != nil {
		t.Fatalf("record comped sale: %v", err)
	}
	if sale.TotalCents != 0 {
		t.Fatalf("explicit zero total must be kept, got %d", sale.TotalCents)
	}

	material, err := svc.GetRawMaterial(ctx, tomato.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if material.Quantity != 9 {
		t.Fatalf("comped sale must still debit stock, got %v", material.Quantity)
	}

	negative := int64(-1)
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 1, TotalCents: &negative}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative total, got %v", err)
	}
}

func TestDeleteSaleTwiceReturnsNotFound(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1, Unit: "kg"},
	})

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if _, err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if _, err := svc.DeleteSale(ctx, sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete must report ErrNotFound, got %v", err)
	}

	material, err := svc.GetRawMaterial(ctx, tomato.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if material.Quantity != 10 {
		t.Fatalf("double delete must not double-credit stock, got %v", material.Quantity)
	}
}

func TestDeleteSaleRequiresAdmin(t *testing.T) {
	svc := newTestService()
	adminCtx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1, Unit: "kg"},
	})
	sale, err := svc.RecordSale(adminCtx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	staffCtx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
	if _, err := svc.DeleteSale(staffCtx, sale.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}
}

func TestCheckSufficiencyMatchesRecordSaleOutcome(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 2, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1, Unit: "kg"},
	})

	insufficient, err := svc.CheckSufficiency(ctx, domain.SufficiencyRequest{DishID: salad.ID, Quantity: 3})
	if err != nil {
		t.Fatalf("check sufficiency: %v", err)
	}
	if insufficient.Sufficient || len(insufficient.Shortfalls) != 1 {
		t.Fatalf("expected insufficient with one shortfall, got %+v", insufficient)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 3}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("sale must fail where check reported insufficient, got %v", err)
	}

	sufficient, err := svc.CheckSufficiency(ctx, domain.SufficiencyRequest{DishID: salad.ID, Quantity: 2})
	if err != nil {
		t.Fatalf("check sufficiency: %v", err)
	}
	if !sufficient.Sufficient || len(sufficient.Shortfalls) != 0 {
		t.Fatalf("expected sufficient with no shortfalls, got %+v", sufficient)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 2}); err != nil {
		t.Fatalf("sale must succeed where check reported sufficient: %v", err)
	}
}

func TestStatisticsAggregatesTopDishesAndUsage(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	beef := mustCreateMaterial(t, svc, "Beef", 100, "kg")
	burger := mustCreateDish(t, svc, "Burger", 1200, []domain.RecipeLine{
		{RawMaterialID: beef.ID, Quantity: 0.25, Unit: "kg"},
	})

	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: burger.ID, Quantity: 2}); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: burger.ID, Quantity: 3}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	stats, err := svc.Statistics(ctx, today(), today())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}

	if stats.TotalCents != 5*1200 {
		t.Fatalf("expected total 6000 cents, got %d", stats.TotalCents)
	}
	if len(stats.TopDishes) != 1 {
		t.Fatalf("expected one top dish, got %+v", stats.TopDishes)
	}
	if stats.TopDishes[0].Name != "Burger" || stats.TopDishes[0].TotalQuantity != 5 {
		t.Fatalf("expected Burger with total 5, got %+v", stats.TopDishes[0])
	}
	if len(stats.RawMaterialsUsed) != 1 {
		t.Fatalf("expected one usage row, got %+v", stats.RawMaterialsUsed)
	}
	usage := stats.RawMaterialsUsed[0]
	if usage.Name != "Beef" || usage.TotalUsed != 1.25 {
		t.Fatalf("expected Beef usage 1.25, got %+v", usage)
	}
}

func TestStatisticsEmptyRangeIsZeroNotError(t *testing.T) {
	svc := newTestService()

	stats, err := svc.Statistics(adminContext(), "2001-01-02", "2001-01-03")
	if err != nil {
		t.Fatalf("statistics over empty range: %v", err)
	}
	if stats.TotalCents != 0 {
		t.Fatalf("expected zero total, got %d", stats.TotalCents)
	}
	if len(stats.TopDishes) != 0 || len(stats.RawMaterialsUsed) != 0 {
		t.Fatalf("expected empty aggregates, got %+v", stats)
	}
	if stats.StartDate != "2001-01-02" || stats.EndDate != "2001-01-03" {
		t.Fatalf("expected echoed range, got %s..%s", stats.StartDate, stats.EndDate)
	}
}

func TestStatisticsRejectsMalformedDates(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.Statistics(ctx, "02-01-2001", "2001-01-03"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed start, got %v", err)
	}
	if _, err := svc.Statistics(ctx, "2001-01-05", "2001-01-03"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestStatisticsTopDishTieBreaksByCreationOrder(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	first := mustCreateDish(t, svc, "Zebra Cake", 400, nil)
	second := mustCreateDish(t, svc, "Apple Pie", 400, nil)

	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: second.ID, Quantity: 2}); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: first.ID, Quantity: 2}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	stats, err := svc.Statistics(ctx, today(), today())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if len(stats.TopDishes) != 2 {
		t.Fatalf("expected two top dishes, got %+v", stats.TopDishes)
	}
	if stats.TopDishes[0].Name != "Zebra Cake" || stats.TopDishes[1].Name != "Apple Pie" {
		t.Fatalf("tie must resolve by creation order, got %+v", stats.TopDishes)
	}
}

func TestLowStockAlerts(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	low, err := svc.CreateRawMaterial(ctx, domain.RawMaterialCreateRequest{Name: "Cheese", Quantity: 1, Unit: "kg", MinQuantity: 2})
	if err != nil {
		t.Fatalf("create material: %v", err)
	}
	if _, err := svc.CreateRawMaterial(ctx, domain.RawMaterialCreateRequest{Name: "Flour", Quantity: 50, Unit: "kg", MinQuantity: 5}); err != nil {
		t.Fatalf("create material: %v", err)
	}
	// Zero minimum never alerts.
	if _, err := svc.CreateRawMaterial(ctx, domain.RawMaterialCreateRequest{Name: "Salt", Quantity: 0, Unit: "kg"}); err != nil {
		t.Fatalf("create material: %v", err)
	}

	alerts, err := svc.LowStockAlerts(ctx)
	if err != nil {
		t.Fatalf("low stock alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %+v", alerts)
	}
	if alerts[0].RawMaterialID != low.ID || alerts[0].Name != "Cheese" {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
}

func TestDishUpdatePreservesRecipeWhenOmitted(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	dish := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 0.5, Unit: "kg"},
	})

	newPrice := int64(700)
	updated, err := svc.UpdateDish(ctx, dish.ID, domain.DishUpdateRequest{PriceCents: &newPrice})
	if err != nil {
		t.Fatalf("update dish: %v", err)
	}
	if updated.PriceCents != 700 {
		t.Fatalf("expected price 700, got %d", updated.PriceCents)
	}
	if len(updated.Ingredients) != 1 || updated.Ingredients[0].RawMaterialID != tomato.ID {
		t.Fatalf("omitted ingredients must be preserved, got %+v", updated.Ingredients)
	}

	empty := []domain.RecipeLine{}
	cleared, err := svc.UpdateDish(ctx, dish.ID, domain.DishUpdateRequest{Ingredients: &empty})
	if err != nil {
		t.Fatalf("clear recipe: %v", err)
	}
	if len(cleared.Ingredients) != 0 {
		t.Fatalf("explicit empty recipe must clear lines, got %+v", cleared.Ingredients)
	}
}

func TestAuditLogsRecordMutations(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	tomato := mustCreateMaterial(t, svc, "Tomato", 10, "kg")
	salad := mustCreateDish(t, svc, "Salad", 650, []domain.RecipeLine{
		{RawMaterialID: tomato.ID, Quantity: 1, Unit: "kg"},
	})
	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{DishID: salad.ID, Quantity: 1}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, today(), 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(logs))
	}
	actions := make(map[string]bool, len(logs))
	for _, entry := range logs {
		actions[entry.Action] = true
		if entry.ActorUsername != "admin" {
			t.Fatalf("expected admin actor, got %s", entry.ActorUsername)
		}
	}
	for _, want := range []string{"raw_material_create", "dish_create", "sale_record"} {
		if !actions[want] {
			t.Fatalf("missing audit action %s in %+v", want, logs)
		}
	}

	staffCtx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
	if _, err := svc.ListAuditLogs(staffCtx, today(), 50); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}
}
