package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"shopbridge/internal/core"
)

// SQLiteStorage implements storage.Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS provider_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			scope TEXT,
			expires_at DATETIME NOT NULL,
			refresh_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (provider, subject_id)
		);

		CREATE TABLE IF NOT EXISTS shops (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shop_id TEXT NOT NULL UNIQUE,
			shop_name TEXT NOT NULL,
			region TEXT,
			seller_type TEXT,
			seller_cipher TEXT,
			scopes TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_sync_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS oauth_states (
			state TEXT PRIMARY KEY,
			shop_id TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS products (
			id TEXT NOT NULL,
			shop_id TEXT NOT NULL,
			title TEXT,
			status TEXT,
			price TEXT,
			currency TEXT,
			synced_at DATETIME NOT NULL,
			PRIMARY KEY (id, shop_id)
		);

		CREATE INDEX IF NOT EXISTS idx_provider_tokens_expiry ON provider_tokens(expires_at);
		CREATE INDEX IF NOT EXISTS idx_shops_active ON shops(is_active);
		CREATE INDEX IF NOT EXISTS idx_oauth_states_expiry ON oauth_states(expires_at);
		CREATE INDEX IF NOT EXISTS idx_products_shop ON products(shop_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetToken fetches the token for a (provider, subject) pair
func (s *SQLiteStorage) GetToken(ctx context.Context, provider, subjectID string) (*core.ProviderToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, subject_id, access_token, refresh_token, scope,
		       expires_at, refresh_expires_at, created_at, updated_at
		FROM provider_tokens
		WHERE provider = ? AND subject_id = ?`,
		provider, subjectID)

	token, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// UpsertToken inserts or fully overwrites the single row for the token's
// (provider, subject) pair. Last writer wins.
func (s *SQLiteStorage) UpsertToken(ctx context.Context, token *core.ProviderToken) error {
	if token.Provider == "" || token.SubjectID == "" {
		return errors.New("token provider and subject_id are required")
	}

	now := time.Now()
	token.UpdatedAt = now
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}

	var refreshToken sql.NullString
	if token.RefreshToken != "" {
		refreshToken = sql.NullString{String: token.RefreshToken, Valid: true}
	}
	var refreshExpiresAt sql.NullTime
	if token.RefreshExpiresAt != nil {
		refreshExpiresAt = sql.NullTime{Time: token.RefreshExpiresAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_tokens
			(provider, subject_id, access_token, refresh_token, scope,
			 expires_at, refresh_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, subject_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			refresh_expires_at = excluded.refresh_expires_at,
			updated_at = excluded.updated_at`,
		token.Provider, token.SubjectID, token.AccessToken, refreshToken, token.Scope,
		token.ExpiresAt.UTC(), refreshExpiresAt, token.CreatedAt.UTC(), token.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// ListValidTokens returns all tokens for a provider whose access token has
// not yet expired, most recently updated first.
func (s *SQLiteStorage) ListValidTokens(ctx context.Context, provider string, now time.Time) ([]*core.ProviderToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, subject_id, access_token, refresh_token, scope,
		       expires_at, refresh_expires_at, created_at, updated_at
		FROM provider_tokens
		WHERE provider = ? AND expires_at > ?
		ORDER BY updated_at DESC`,
		provider, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list valid tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*core.ProviderToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// DeleteToken removes the token for a (provider, subject) pair
func (s *SQLiteStorage) DeleteToken(ctx context.Context, provider, subjectID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE provider = ? AND subject_id = ?`,
		provider, subjectID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes tokens whose access expiry is past and whose
// refresh expiry, when present, is also past. Tokens without a refresh
// expiry are only removed once the access token is dead and there is no
// refresh token at all.
func (s *SQLiteStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM provider_tokens
		WHERE expires_at < ?
		  AND (
			(refresh_expires_at IS NOT NULL AND refresh_expires_at < ?)
			OR (refresh_expires_at IS NULL AND (refresh_token IS NULL OR refresh_token = ''))
		  )`,
		now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*core.ProviderToken, error) {
	var token core.ProviderToken
	var refreshToken sql.NullString
	var scope sql.NullString
	var refreshExpiresAt sql.NullTime

	err := row.Scan(&token.ID, &token.Provider, &token.SubjectID, &token.AccessToken,
		&refreshToken, &scope, &token.ExpiresAt, &refreshExpiresAt,
		&token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return nil, err
	}

	token.RefreshToken = refreshToken.String
	token.Scope = scope.String
	if refreshExpiresAt.Valid {
		t := refreshExpiresAt.Time
		token.RefreshExpiresAt = &t
	}
	return &token, nil
}

// GetShop fetches a shop by its external shop ID
func (s *SQLiteStorage) GetShop(ctx context.Context, shopID string) (*core.Shop, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, shop_name, region, seller_type, seller_cipher,
		       scopes, is_active, last_sync_at, created_at, updated_at
		FROM shops WHERE shop_id = ?`, shopID)

	shop, err := scanShop(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return shop, nil
}

// ListActiveShops returns all active shops
func (s *SQLiteStorage) ListActiveShops(ctx context.Context) ([]*core.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, shop_name, region, seller_type, seller_cipher,
		       scopes, is_active, last_sync_at, created_at, updated_at
		FROM shops WHERE is_active = 1 ORDER BY shop_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active shops: %w", err)
	}
	defer rows.Close()

	var shops []*core.Shop
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shop: %w", err)
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}

// UpsertShop inserts or updates a shop keyed by its external shop ID
func (s *SQLiteStorage) UpsertShop(ctx context.Context, shop *core.Shop) error {
	if shop.ShopID == "" {
		return errors.New("shop_id is required")
	}

	now := time.Now()
	shop.UpdatedAt = now
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = now
	}

	var scopesJSON sql.NullString
	if len(shop.Scopes) > 0 {
		data, err := json.Marshal(shop.Scopes)
		if err != nil {
			return fmt.Errorf("failed to marshal scopes: %w", err)
		}
		scopesJSON = sql.NullString{String: string(data), Valid: true}
	}
	var lastSyncAt sql.NullTime
	if shop.LastSyncAt != nil {
		lastSyncAt = sql.NullTime{Time: shop.LastSyncAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops
			(shop_id, shop_name, region, seller_type, seller_cipher, scopes,
			 is_active, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop_id) DO UPDATE SET
			shop_name = excluded.shop_name,
			region = excluded.region,
			seller_type = excluded.seller_type,
			seller_cipher = excluded.seller_cipher,
			scopes = excluded.scopes,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		shop.ShopID, shop.Name, shop.Region, shop.SellerType, shop.Cipher, scopesJSON,
		boolToInt(shop.IsActive), lastSyncAt, shop.CreatedAt.UTC(), shop.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert shop: %w", err)
	}
	return nil
}

// SetShopActive toggles a shop's active flag
func (s *SQLiteStorage) SetShopActive(ctx context.Context, shopID string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE shops SET is_active = ?, updated_at = ? WHERE shop_id = ?`,
		boolToInt(active), time.Now().UTC(), shopID)
	if err != nil {
		return fmt.Errorf("failed to update shop: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrShopNotFound
	}
	return nil
}

// TouchShopSync records the time of the last successful sync for a shop
func (s *SQLiteStorage) TouchShopSync(ctx context.Context, shopID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shops SET last_sync_at = ?, updated_at = ? WHERE shop_id = ?`,
		at.UTC(), time.Now().UTC(), shopID)
	if err != nil {
		return fmt.Errorf("failed to touch shop sync time: %w", err)
	}
	return nil
}

func scanShop(row rowScanner) (*core.Shop, error) {
	var shop core.Shop
	var region, sellerType, cipher, scopesJSON sql.NullString
	var isActive int
	var lastSyncAt sql.NullTime

	err := row.Scan(&shop.ID, &shop.ShopID, &shop.Name, &region, &sellerType,
		&cipher, &scopesJSON, &isActive, &lastSyncAt, &shop.CreatedAt, &shop.UpdatedAt)
	if err != nil {
		return nil, err
	}

	shop.Region = region.String
	shop.SellerType = sellerType.String
	shop.Cipher = cipher.String
	shop.IsActive = isActive != 0
	if scopesJSON.Valid && scopesJSON.String != "" {
		if err := json.Unmarshal([]byte(scopesJSON.String), &shop.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		shop.LastSyncAt = &t
	}
	return &shop, nil
}

// CreateOAuthState stores a pending authorization state
func (s *SQLiteStorage) CreateOAuthState(ctx context.Context, state *core.OAuthState) error {
	if state.State == "" || state.ShopID == "" {
		return errors.New("state and shop_id are required")
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, shop_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		state.State, state.ShopID, state.ExpiresAt.UTC(), state.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically fetches and deletes a non-expired state.
// A state can be consumed at most once.
func (s *SQLiteStorage) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*core.OAuthState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result core.OAuthState
	err = tx.QueryRowContext(ctx, `
		SELECT state, shop_id, expires_at, created_at
		FROM oauth_states WHERE state = ? AND expires_at > ?`,
		state, now.UTC()).
		Scan(&result.State, &result.ShopID, &result.ExpiresAt, &result.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return nil, fmt.Errorf("failed to delete oauth state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &result, nil
}

// DeleteExpiredOAuthStates removes states past their expiry
func (s *SQLiteStorage) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired oauth states: %w", err)
	}
	return result.RowsAffected()
}

// UpsertProduct inserts or updates a synced product snapshot
func (s *SQLiteStorage) UpsertProduct(ctx context.Context, product *core.Product) error {
	if product.ID == "" || product.ShopID == "" {
		return errors.New("product id and shop_id are required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, shop_id, title, status, price, currency, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, shop_id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			price = excluded.price,
			currency = excluded.currency,
			synced_at = excluded.synced_at`,
		product.ID, product.ShopID, product.Title, product.Status,
		product.Price, product.Currency, product.SyncedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// ListProductsByShop returns all synced products for a shop
func (s *SQLiteStorage) ListProductsByShop(ctx context.Context, shopID string) ([]*core.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, title, status, price, currency, synced_at
		FROM products WHERE shop_id = ? ORDER BY id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*core.Product
	for rows.Next() {
		var p core.Product
		var title, status, price, currency sql.NullString
		if err := rows.Scan(&p.ID, &p.ShopID, &title, &status, &price, &currency, &p.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Title = title.String
		p.Status = status.String
		p.Price = price.String
		p.Currency = currency.String
		products = append(products, &p)
	}
	return products, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
