package domain

import "time"

type RawMaterial struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Quantity    float64   `json:"quantity"`
	Unit        string    `json:"unit"`
	MinQuantity float64   `json:"min_quantity"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RawMaterialCreateRequest struct {
	Name        string  `json:"name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	MinQuantity float64 `json:"min_quantity"`
}

type RawMaterialUpdateRequest struct {
	Name        *string  `json:"name,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        *string  `json:"unit,omitempty"`
	MinQuantity *float64 `json:"min_quantity,omitempty"`
}

// RecipeLine is the quantity of one raw material consumed per unit of a dish sold.
type RecipeLine struct {
	RawMaterialID string  `json:"raw_material_id"`
	Quantity      float64 `json:"quantity"`
	Unit          string  `json:"unit"`
}

// Ingredient is a recipe line resolved against its raw material.
type Ingredient struct {
	RawMaterialID   string  `json:"raw_material_id"`
	Name            string  `json:"name"`
	QuantityPerUnit float64 `json:"quantity_per_unit"`
	Unit            string  `json:"unit"`
}

type Dish struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	PriceCents  int64        `json:"price_cents"`
	Ingredients []Ingredient `json:"ingredients"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type DishCreateRequest struct {
	Name        string       `json:"name"`
	PriceCents  int64        `json:"price_cents"`
	Ingredients []RecipeLine `json:"ingredients"`
}

type DishUpdateRequest struct {
	Name        *string       `json:"name,omitempty"`
	PriceCents  *int64        `json:"price_cents,omitempty"`
	Ingredients *[]RecipeLine `json:"ingredients,omitempty"`
}

// Sale is immutable once recorded; the only lifecycle transition after that
// is deletion, which credits the consumed stock back.
type Sale struct {
	ID         string    `json:"id"`
	DishID     string    `json:"dish_id"`
	DishName   string    `json:"dish_name,omitempty"`
	Quantity   int       `json:"quantity"`
	TotalCents int64     `json:"total_cents"`
	SoldAt     time.Time `json:"sold_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaleCreateRequest records one sale. A nil TotalCents means "derive from the
// dish price"; an explicit zero records a comped sale.
type SaleCreateRequest struct {
	DishID     string     `json:"dish_id"`
	Quantity   int        `json:"quantity"`
	TotalCents *int64     `json:"total_cents,omitempty"`
	SoldAt     *time.Time `json:"sold_at,omitempty"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

// Shortfall names one raw material whose stock cannot cover a requested sale.
type Shortfall struct {
	RawMaterialID string  `json:"raw_material_id"`
	Name          string  `json:"name"`
	Required      float64 `json:"required"`
	Available     float64 `json:"available"`
	Unit          string  `json:"unit"`
}

// SufficiencyResult is advisory: a sufficient result can still race with a
// concurrent sale, so the debit re-validates inside its own transaction.
type SufficiencyResult struct {
	DishID     string      `json:"dish_id"`
	Quantity   int         `json:"quantity"`
	Sufficient bool        `json:"sufficient"`
	Shortfalls []Shortfall `json:"shortfalls"`
}

type SufficiencyRequest struct {
	DishID   string `json:"dish_id"`
	Quantity int    `json:"quantity"`
}

type TopDish struct {
	Name          string `json:"name"`
	TotalQuantity int64  `json:"total_quantity"`
}

type RawMaterialUsage struct {
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	TotalUsed float64 `json:"total_used"`
}

type Statistics struct {
	StartDate        string             `json:"start_date"`
	EndDate          string             `json:"end_date"`
	TotalCents       int64              `json:"total_cents"`
	TopDishes        []TopDish          `json:"top_dishes"`
	RawMaterialsUsed []RawMaterialUsage `json:"raw_materials_used"`
}

type LowStockAlert struct {
	RawMaterialID string  `json:"raw_material_id"`
	Name          string  `json:"name"`
	Quantity      float64 `json:"quantity"`
	MinQuantity   float64 `json:"min_quantity"`
	Unit          string  `json:"unit"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)
