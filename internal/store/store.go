package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"comanda/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConstraint        = errors.New("constraint violation")
	ErrInvalidInput      = errors.New("invalid input")
)

// InsufficientStockError carries the full shortfall detail for a rejected
// debit: every violating ingredient, not just the first one found.
type InsufficientStockError struct {
	Shortfalls []domain.Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s (required %.2f %s, available %.2f %s)", s.Name, s.Required, s.Unit, s.Available, s.Unit))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error)
	CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error)
	GetRawMaterial(ctx context.Context, id string) (*domain.RawMaterial, error)
	UpdateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error)
	DeleteRawMaterial(ctx context.Context, id string) error
	ListLowStockRawMaterials(ctx context.Context) ([]domain.RawMaterial, error)

	ListDishes(ctx context.Context) ([]domain.Dish, error)
	CreateDish(ctx context.Context, dish domain.Dish, lines []domain.RecipeLine) (*domain.Dish, error)
	GetDish(ctx context.Context, id string) (*domain.Dish, error)
	UpdateDish(ctx context.Context, dish domain.Dish, lines *[]domain.RecipeLine) (*domain.Dish, error)
	DeleteDish(ctx context.Context, id string) error
	GetDishIngredients(ctx context.Context, dishID string) ([]domain.Ingredient, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	GetSalesTotal(ctx context.Context, from time.Time, to time.Time) (int64, error)
	GetTopDishes(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopDish, error)
	GetRawMaterialUsage(ctx context.Context, from time.Time, to time.Time) ([]domain.RawMaterialUsage, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
