package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/store"
	"comanda/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS raw_materials (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			quantity DOUBLE PRECISION NOT NULL CHECK (quantity >= 0),
			unit TEXT NOT NULL,
			min_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS dishes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS dish_ingredients (
			dish_id TEXT NOT NULL REFERENCES dishes(id) ON DELETE CASCADE,
			raw_material_id TEXT NOT NULL REFERENCES raw_materials(id),
			quantity DOUBLE PRECISION NOT NULL CHECK (quantity > 0),
			unit TEXT NOT NULL,
			PRIMARY KEY (dish_id, raw_material_id)
		);

		CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			dish_id TEXT NOT NULL REFERENCES dishes(id),
			quantity INT NOT NULL CHECK (quantity > 0),
			total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
			sold_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales(sold_at);

		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (s *Store) ListRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, quantity, unit, min_quantity, created_at, updated_at
		FROM raw_materials
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.RawMaterial, 0, 64)
	for rows.Next() {
		var m domain.RawMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.Quantity, &m.Unit, &m.MinQuantity, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return materials, nil
}

func (s *Store) CreateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	if material.Name == "" || material.Unit == "" || material.Quantity < 0 || material.MinQuantity < 0 {
		return nil, store.ErrInvalidInput
	}
	if material.ID == "" {
		material.ID = xid.New("rm")
	}
	now := time.Now().UTC()
	material.CreatedAt = now
	material.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_materials (id, name, quantity, unit, min_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, material.ID, material.Name, material.Quantity, material.Unit, material.MinQuantity, material.CreatedAt, material.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	created := material
	return &created, nil
}

func (s *Store) GetRawMaterial(ctx context.Context, id string) (*domain.RawMaterial, error) {
	var m domain.RawMaterial
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, quantity, unit, min_quantity, created_at, updated_at
		FROM raw_materials
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Quantity, &m.Unit, &m.MinQuantity, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (s *Store) UpdateRawMaterial(ctx context.Context, material domain.RawMaterial) (*domain.RawMaterial, error) {
	if material.ID == "" || material.Name == "" || material.Unit == "" || material.Quantity < 0 || material.MinQuantity < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE raw_materials
		SET name = $2, quantity = $3, unit = $4, min_quantity = $5, updated_at = now()
		WHERE id = $1
	`, material.ID, material.Name, material.Quantity, material.Unit, material.MinQuantity)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetRawMaterial(ctx, material.ID)
}

func (s *Store) DeleteRawMaterial(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raw_materials WHERE id = $1`, id)
	if err != nil {
		// A raw material referenced by a recipe line must not disappear from
		// under the dish.
		if isForeignKeyViolation(err) {
			return store.ErrConstraint
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLowStockRawMaterials(ctx context.Context) ([]domain.RawMaterial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, quantity, unit, min_quantity, created_at, updated_at
		FROM raw_materials
		WHERE min_quantity > 0 AND quantity <= min_quantity
		ORDER BY quantity / min_quantity ASC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.RawMaterial, 0, 16)
	for rows.Next() {
		var m domain.RawMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.Quantity, &m.Unit, &m.MinQuantity, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}

func (s *Store) ListDishes(ctx context.Context) ([]domain.Dish, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, created_at, updated_at
		FROM dishes
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	dishes := make([]domain.Dish, 0, 32)
	for rows.Next() {
		var d domain.Dish
		if err := rows.Scan(&d.ID, &d.Name, &d.PriceCents, &d.CreatedAt, &d.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		d.UpdatedAt = d.UpdatedAt.UTC()
		d.Ingredients = make([]domain.Ingredient, 0, 4)
		dishes = append(dishes, d)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT di.dish_id, di.raw_material_id, rm.name, di.quantity, di.unit
		FROM dish_ingredients di
		JOIN raw_materials rm ON rm.id = di.raw_material_id
		ORDER BY di.dish_id, rm.name
	`)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	byDish := make(map[string][]domain.Ingredient, len(dishes))
	for lineRows.Next() {
		var dishID string
		var ing domain.Ingredient
		if err := lineRows.Scan(&dishID, &ing.RawMaterialID, &ing.Name, &ing.QuantityPerUnit, &ing.Unit); err != nil {
			return nil, err
		}
		byDish[dishID] = append(byDish[dishID], ing)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	for i := range dishes {
		if lines, ok := byDish[dishes[i].ID]; ok {
			dishes[i].Ingredients = lines
		}
	}

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
	if dish.ID == "" {
		dish.ID = xid.New("dish")
	}
	now := time.Now().UTC()
	dish.CreatedAt = now
	dish.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dishes (id, name, price_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, dish.ID, dish.Name, dish.PriceCents, dish.CreatedAt, dish.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dish_ingredients (dish_id, raw_material_id, quantity, unit)
			VALUES ($1,$2,$3,$4)
		`, dish.ID, line.RawMaterialID, line.Quantity, line.Unit)
		if err != nil {
			if isForeignKeyViolation(err) || isUniqueViolation(err) {
				return nil, store.ErrConstraint
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetDish(ctx, dish.ID)
}

func (s *Store) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	var d domain.Dish
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, created_at, updated_at
		FROM dishes
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.PriceCents, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	ingredients, err := s.queryDishIngredients(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Ingredients = ingredients
	return &d, nil
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE dishes
		SET name = $2, price_cents = $3, updated_at = now()
		WHERE id = $1
	`, dish.ID, dish.Name, dish.PriceCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if lines != nil {
		// Replace the whole recipe; partial line edits are expressed as a
		// full new set by the caller.
		_, err = tx.ExecContext(ctx, `DELETE FROM dish_ingredients WHERE dish_id = $1`, dish.ID)
		if err != nil {
			return nil, err
		}
		for _, line := range *lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO dish_ingredients (dish_id, raw_material_id, quantity, unit)
				VALUES ($1,$2,$3,$4)
			`, dish.ID, line.RawMaterialID, line.Quantity, line.Unit)
			if err != nil {
				if isForeignKeyViolation(err) || isUniqueViolation(err) {
					return nil, store.ErrConstraint
				}
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetDish(ctx, dish.ID)
}

func (s *Store) DeleteDish(ctx context.Context, id string) error {
	// Recipe lines go with the dish (ON DELETE CASCADE); recorded sales keep
	// their reference, so a dish with sales history cannot be deleted.
	res, err := s.db.ExecContext(ctx, `DELETE FROM dishes WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConstraint
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetDishIngredients(ctx context.Context, dishID string) ([]domain.Ingredient, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM dishes WHERE id = $1)`, dishID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	return s.queryDishIngredients(ctx, dishID)
}

func (s *Store) queryDishIngredients(ctx context.Context, dishID string) ([]domain.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT di.raw_material_id, rm.name, di.quantity, di.unit
		FROM dish_ingredients di
		JOIN raw_materials rm ON rm.id = di.raw_material_id
		WHERE di.dish_id = $1
		ORDER BY rm.name
	`, dishID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ingredients := make([]domain.Ingredient, 0, 8)
	for rows.Next() {
		var ing domain.Ingredient
		if err := rows.Scan(&ing.RawMaterialID, &ing.Name, &ing.QuantityPerUnit, &ing.Unit); err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ingredients, nil
}

// CreateSale records a sale and debits the dish's recipe from stock in one
// serializable transaction. The touched raw-material rows are locked before
// the sufficiency check, so the check it performs is authoritative for this
// transaction regardless of what any earlier advisory check saw.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.DishID == "" || sale.Quantity < 1 || sale.TotalCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SoldAt.IsZero() {
		sale.SoldAt = time.Now().UTC()
	}
	sale.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var dishName string
	err = tx.QueryRowContext(ctx, `SELECT name FROM dishes WHERE id = $1`, sale.DishID).Scan(&dishName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := lockRecipeStock(ctx, tx, sale.DishID)
	if err != nil {
		return nil, err
	}

	shortfalls := make([]domain.Shortfall, 0)
	for _, line := range lines {
		required := line.quantityPerUnit * float64(sale.Quantity)
		if line.available < required {
			shortfalls = append(shortfalls, domain.Shortfall{
				RawMaterialID: line.rawMaterialID,
				Name:          line.name,
				Required:      required,
				Available:     line.available,
				Unit:          line.unit,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &store.InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, line := range lines {
		required := line.quantityPerUnit * float64(sale.Quantity)
		_, err := tx.ExecContext(ctx, `
			UPDATE raw_materials
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2
		`, required, line.rawMaterialID)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, dish_id, quantity, total_cents, sold_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sale.ID, sale.DishID, sale.Quantity, sale.TotalCents, sale.SoldAt, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConstraint
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.DishName = dishName
	return &sale, nil
}

// DeleteSale removes a sale and credits its recipe consumption back to stock
// in one serializable transaction. A second delete of the same id reports
// ErrNotFound rather than silently succeeding.
func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.Sale
	err = tx.QueryRowContext(ctx, `
		SELECT id, dish_id, quantity, total_cents, sold_at, created_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&sale.ID, &sale.DishID, &sale.Quantity, &sale.TotalCents, &sale.SoldAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := lockRecipeStock(ctx, tx, sale.DishID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		credit := line.quantityPerUnit * float64(sale.Quantity)
		_, err := tx.ExecContext(ctx, `
			UPDATE raw_materials
			SET quantity = quantity + $1, updated_at = now()
			WHERE id = $2
		`, credit, line.rawMaterialID)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.SoldAt = sale.SoldAt.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

type recipeStockLine struct {
	rawMaterialID   string
	name            string
	unit            string
	quantityPerUnit float64
	available       float64
}

// lockRecipeStock loads a dish's recipe lines joined with current stock and
// takes row locks on the raw materials for the duration of the transaction.
func lockRecipeStock(ctx context.Context, tx *sql.Tx, dishID string) ([]recipeStockLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT di.raw_material_id, rm.name, di.unit, di.quantity, rm.quantity
		FROM dish_ingredients di
		JOIN raw_materials rm ON rm.id = di.raw_material_id
		WHERE di.dish_id = $1
		ORDER BY di.raw_material_id
		FOR UPDATE OF rm
	`, dishID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]recipeStockLine, 0, 8)
	for rows.Next() {
		var line recipeStockLine
		if err := rows.Scan(&line.rawMaterialID, &line.name, &line.unit, &line.quantityPerUnit, &line.available); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.dish_id, d.name, s.quantity, s.total_cents, s.sold_at, s.created_at
		FROM sales s
		JOIN dishes d ON d.id = s.dish_id
		WHERE s.id = $1
	`, id).Scan(&sale.ID, &sale.DishID, &sale.DishName, &sale.Quantity, &sale.TotalCents, &sale.SoldAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SoldAt = sale.SoldAt.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.dish_id, d.name, s.quantity, s.total_cents, s.sold_at, s.created_at
		FROM sales s
		JOIN dishes d ON d.id = s.dish_id
		WHERE s.sold_at >= $1 AND s.sold_at < $2
		ORDER BY s.sold_at DESC, s.id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.DishID, &sale.DishName, &sale.Quantity, &sale.TotalCents, &sale.SoldAt, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.SoldAt = sale.SoldAt.UTC()
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSalesTotal(ctx context.Context, from time.Time, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents),0)::bigint
		FROM sales
		WHERE sold_at >= $1 AND sold_at < $2
	`, from, to).Scan(&total)
	return total, err
}

func (s *Store) GetTopDishes(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopDish, error) {
	if limit < 1 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name, SUM(s.quantity)::bigint AS total_quantity
		FROM sales s
		JOIN dishes d ON d.id = s.dish_id
		WHERE s.sold_at >= $1 AND s.sold_at < $2
		GROUP BY d.id, d.name, d.created_at
		ORDER BY total_quantity DESC, d.created_at ASC, d.id ASC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	top := make([]domain.TopDish, 0, limit)
	for rows.Next() {
		var row domain.TopDish
		if err := rows.Scan(&row.Name, &row.TotalQuantity); err != nil {
			return nil, err
		}
		top = append(top, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return top, nil
}

func (s *Store) GetRawMaterialUsage(ctx context.Context, from time.Time, to time.Time) ([]domain.RawMaterialUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rm.name, di.unit, SUM(di.quantity * s.quantity) AS total_used
		FROM sales s
		JOIN dish_ingredients di ON di.dish_id = s.dish_id
		JOIN raw_materials rm ON rm.id = di.raw_material_id
		WHERE s.sold_at >= $1 AND s.sold_at < $2
		GROUP BY rm.id, rm.name, di.unit
		ORDER BY total_used DESC, rm.name ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make([]domain.RawMaterialUsage, 0, 32)
	for rows.Next() {
		var row domain.RawMaterialUsage
		if err := rows.Scan(&row.Name, &row.Unit, &row.TotalUsed); err != nil {
			return nil, err
		}
		usage = append(usage, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
