package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/reporting"
	"comanda/backend/internal/store"
	"comanda/backend/internal/xid"
)

// ErrForbidden marks an operation rejected because the acting user lacks the
// required role, as opposed to a missing or invalid token.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	aggregator *reporting.Aggregator
}

func New(repo store.Repository, aggregator *reporting.Aggregator) *Service {
	if aggregator == nil {
		aggregator = reporting.NewAggregator(repo, nil, 0)
	}

	return &Service{
		repo:       repo,
		aggregator: aggregator,
	}
}

func (s *Service) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	return s.repo.ListRawMaterials(ctx)
}

func (s *Service) CreateRawMaterial(ctx context.Context, req domain.RawMaterialCreateRequest) (domain.RawMaterial, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)

	if req.Name == "" || req.Unit == "" {
		return domain.RawMaterial{}, store.ErrInvalidInput
	}
	if req.Quantity < 0 || req.MinQuantity < 0 {
		return domain.RawMaterial{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateRawMaterial(ctx, domain.RawMaterial{
		Name:        req.Name,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		MinQuantity: req.MinQuantity,
	})
	if err != nil {
		return domain.RawMaterial{}, err
	}

	s.logAudit(ctx, "raw_material_create", "raw_material", created.ID, fmt.Sprintf("name=%s,quantity=%.2f%s", created.Name, created.Quantity, created.Unit))
	return *created, nil
}

func (s *Service) GetRawMaterial(ctx context.Context, id string) (domain.RawMaterial, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RawMaterial{}, store.ErrInvalidInput
	}

	material, err := s.repo.GetRawMaterial(ctx, id)
	if err != nil {
		return domain.RawMaterial{}, err
	}
	return *material, nil
}

func (s *Service) UpdateRawMaterial(ctx context.Context, id string, req domain.RawMaterialUpdateRequest) (domain.RawMaterial, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RawMaterial{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetRawMaterial(ctx, id)
	if err != nil {
		return domain.RawMaterial{}, err
	}

	material := *existing
	if req.Name != nil {
		material.Name = strings.TrimSpace(*req.Name)
	}
	if req.Quantity != nil {
		material.Quantity = *req.Quantity
	}
	if req.Unit != nil {
		material.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.MinQuantity != nil {
		material.MinQuantity = *req.MinQuantity
	}

	if material.Name == "" || material.Unit == "" || material.Quantity < 0 || material.MinQuantity < 0 {
		return domain.RawMaterial{}, store.ErrInvalidInput
	}

	saved, err := s.repo.UpdateRawMaterial(ctx, material)
	if err != nil {
		return domain.RawMaterial{}, err
	}

	s.logAudit(ctx, "raw_material_update", "raw_material", saved.ID, fmt.Sprintf("name=%s,quantity=%.2f%s,min=%.2f", saved.Name, saved.Quantity, saved.Unit, saved.MinQuantity))
	return *saved, nil
}

func (s *Service) DeleteRawMaterial(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}

	if err := s.repo.DeleteRawMaterial(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "raw_material_delete", "raw_material", id, "")
	return nil
}

// LowStockAlerts reports every raw material at or below its minimum level.
// Materials with a zero minimum never alert.
func (s *Service) LowStockAlerts(ctx context.Context) ([]domain.LowStockAlert, error) {
	materials, err := s.repo.ListLowStockRawMaterials(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.LowStockAlert, 0, len(materials))
	for _, m := range materials {
		alerts = append(alerts, domain.LowStockAlert{
			RawMaterialID: m.ID,
			Name:          m.Name,
			Quantity:      m.Quantity,
			MinQuantity:   m.MinQuantity,
			Unit:          m.Unit,
		})
	}
	return alerts, nil
}

func (s *Service) ListDishes(ctx context.Context) ([]domain.Dish, error) {
	return s.repo.ListDishes(ctx)
}

func (s *Service) CreateDish(ctx context.Context, req domain.DishCreateRequest) (domain.Dish, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 0 {
		return domain.Dish{}, store.ErrInvalidInput
	}
	lines, err := normalizeRecipeLines(req.Ingredients)
	if err != nil {
		return domain.Dish{}, err
	}

	created, err := s.repo.CreateDish(ctx, domain.Dish{
		Name:       req.Name,
		PriceCents: req.PriceCents,
	}, lines)
	if err != nil {
		return domain.Dish{}, err
	}

	s.logAudit(ctx, "dish_create", "dish", created.ID, fmt.Sprintf("name=%s,price=%d,ingredients=%d", created.Name, created.PriceCents, len(created.Ingredients)))
	return *created, nil
}

func (s *Service) GetDish(ctx context.Context, id string) (domain.Dish, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dish{}, store.ErrInvalidInput
	}

	dish, err := s.repo.GetDish(ctx, id)
	if err != nil {
		return domain.Dish{}, err
	}
	return *dish, nil
}

func (s *Service) UpdateDish(ctx context.Context, id string, req domain.DishUpdateRequest) (domain.Dish, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dish{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetDish(ctx, id)
	if err != nil {
		return domain.Dish{}, err
	}

	dish := *existing
	if req.Name != nil {
		dish.Name = strings.TrimSpace(*req.Name)
	}
	if req.PriceCents != nil {
		dish.PriceCents = *req.PriceCents
	}
	if dish.Name == "" || dish.PriceCents < 0 {
		return domain.Dish{}, store.ErrInvalidInput
	}

	var lines *[]domain.RecipeLine
	if req.Ingredients != nil {
		normalized, err := normalizeRecipeLines(*req.Ingredients)
		if err != nil {
			return domain.Dish{}, err
		}
		lines = &normalized
	}

	saved, err := s.repo.UpdateDish(ctx, dish, lines)
	if err != nil {
		return domain.Dish{}, err
	}

	s.logAudit(ctx, "dish_update", "dish", saved.ID, fmt.Sprintf("name=%s,price=%d,ingredients=%d", saved.Name, saved.PriceCents, len(saved.Ingredients)))
	return *saved, nil
}

func (s *Service) DeleteDish(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}

	if err := s.repo.DeleteDish(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "dish_delete", "dish", id, "")
	return nil
}

func (s *Service) GetDishIngredients(ctx context.Context, dishID string) ([]domain.Ingredient, error) {
	dishID = strings.TrimSpace(dishID)
	if dishID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetDishIngredients(ctx, dishID)
}

// CheckSufficiency reports whether current stock covers quantity units of a
// dish. The result is advisory; RecordSale re-validates under its own
// transaction.
func (s *Service) CheckSufficiency(ctx context.Context, req domain.SufficiencyRequest) (domain.SufficiencyResult, error) {
	req.DishID = strings.TrimSpace(req.DishID)
	if req.DishID == "" || req.Quantity < 1 {
		return domain.SufficiencyResult{}, store.ErrInvalidInput
	}

	ingredients, err := s.repo.GetDishIngredients(ctx, req.DishID)
	if err != nil {
		return domain.SufficiencyResult{}, err
	}

	result := domain.SufficiencyResult{
		DishID:     req.DishID,
		Quantity:   req.Quantity,
		Sufficient: true,
		Shortfalls: make([]domain.Shortfall, 0),
	}
	for _, ing := range ingredients {
		material, err := s.repo.GetRawMaterial(ctx, ing.RawMaterialID)
		if err != nil {
			return domain.SufficiencyResult{}, err
		}
		required := ing.QuantityPerUnit * float64(req.Quantity)
		if material.Quantity < required {
			result.Sufficient = false
			result.Shortfalls = append(result.Shortfalls, domain.Shortfall{
				RawMaterialID: ing.RawMaterialID,
				Name:          material.Name,
				Required:      required,
				Available:     material.Quantity,
				Unit:          ing.Unit,
			})
		}
	}

	return result, nil
}

// RecordSale records one sale and debits the dish's recipe from stock
// atomically. When the request omits the total, it is derived from the dish
// price at time of sale.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	req.DishID = strings.TrimSpace(req.DishID)
	if req.DishID == "" || req.Quantity < 1 {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if req.TotalCents != nil && *req.TotalCents < 0 {
		return domain.Sale{}, store.ErrInvalidInput
	}

	var totalCents int64
	if req.TotalCents != nil {
		totalCents = *req.TotalCents
	} else {
		dish, err := s.repo.GetDish(ctx, req.DishID)
		if err != nil {
			return domain.Sale{}, err
		}
		totalCents = dish.PriceCents * int64(req.Quantity)
	}

	sale := domain.Sale{
		DishID:     req.DishID,
		Quantity:   req.Quantity,
		TotalCents: totalCents,
	}
	if req.SoldAt != nil {
		sale.SoldAt = req.SoldAt.UTC()
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_record", "sale", created.ID, fmt.Sprintf("dish=%s,quantity=%d,total=%d", created.DishID, created.Quantity, created.TotalCents))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// DeleteSale reverses a recorded sale, crediting the consumed stock back.
// Only admins can rewrite sales history.
func (s *Service) DeleteSale(ctx context.Context, id string) (domain.Sale, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Sale{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}

	deleted, err := s.repo.DeleteSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_delete", "sale", deleted.ID, fmt.Sprintf("dish=%s,quantity=%d,total=%d", deleted.DishID, deleted.Quantity, deleted.TotalCents))
	return *deleted, nil
}

func (s *Service) ListSales(ctx context.Context, startDate string, endDate string, limit int) ([]domain.Sale, error) {
	from, toExclusive, err := parseDayRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, from, toExclusive, limit)
}

// Statistics aggregates revenue, top dishes and raw material consumption over
// an inclusive date range. Both dates use the YYYY-MM-DD form and are read as
// UTC days; empty dates default to today.
func (s *Service) Statistics(ctx context.Context, startDate string, endDate string) (domain.Statistics, error) {
	startDay, err := parseDay(startDate)
	if err != nil {
		return domain.Statistics{}, err
	}
	endDay, err := parseDay(endDate)
	if err != nil {
		return domain.Statistics{}, err
	}
	if endDay.Before(startDay) {
		return domain.Statistics{}, store.ErrInvalidInput
	}

	return s.aggregator.Statistics(ctx, startDay, endDay)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		day, err := parseDay(date)
		if err != nil {
			return nil, err
		}
		from = day
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func normalizeRecipeLines(lines []domain.RecipeLine) ([]domain.RecipeLine, error) {
	normalized := make([]domain.RecipeLine, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		line.RawMaterialID = strings.TrimSpace(line.RawMaterialID)
		line.Unit = strings.TrimSpace(line.Unit)
		if line.RawMaterialID == "" || line.Quantity <= 0 {
			return nil, store.ErrInvalidInput
		}
		if seen[line.RawMaterialID] {
			return nil, store.ErrInvalidInput
		}
		seen[line.RawMaterialID] = true
		normalized = append(normalized, line)
	}
	return normalized, nil
}

// parseDay reads a YYYY-MM-DD date as a UTC day start. An empty date means
// today.
func parseDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, store.ErrInvalidInput
	}
	return parsed.UTC(), nil
}

func parseDayRange(startDate string, endDate string) (time.Time, time.Time, error) {
	startDay, err := parseDay(startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endDay, err := parseDay(endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if endDay.Before(startDay) {
		return time.Time{}, time.Time{}, store.ErrInvalidInput
	}
	return startDay, endDay.Add(24 * time.Hour), nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
