package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Sentinel errors surfaced by store operations.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrCartNotFound     = errors.New("cart not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrCannotCancel     = errors.New("order can only be cancelled while pending")
	ErrShipmentExists   = errors.New("order already has a shipment")
	ErrShipmentNotFound = errors.New("order has no shipment")
	ErrAddressNotFound  = errors.New("address not found")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT id, username, email FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT id, name, price, created_at FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetCartByUserID retrieves the cart owned by a user
func (s *Store) GetCartByUserID(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartItems retrieves all items in a cart
func (s *Store) GetCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, cart_id, product_id, quantity FROM cart_items WHERE cart_id = $1", cartID)
	return items, err
}

// GetAddressesByUserID retrieves a user's addresses, oldest first. The first
// entry acts as the default shipping address.
func (s *Store) GetAddressesByUserID(ctx context.Context, userID uuid.UUID) ([]models.Address, error) {
	var addresses []models.Address
	err := s.db.SelectContext(ctx, &addresses,
		`SELECT id, user_id, title, address, phone_number,
		        COALESCE(city_id, 0) AS city_id,
		        COALESCE(district_id, 0) AS district_id,
		        COALESCE(ward_id, 0) AS ward_id
		 FROM addresses WHERE user_id = $1 ORDER BY created_at`, userID)
	return addresses, err
}

// clearCartTx deletes all items of the user's cart and resets its running
// total, inside the caller's transaction.
func clearCartTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	var cartID uuid.UUID
	err := tx.GetContext(ctx, &cartID, "SELECT id FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET total = 0, updated_at = NOW() WHERE id = $1", cartID); err != nil {
		return fmt.Errorf("failed to reset cart total: %w", err)
	}
	return nil
}
