package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIdentityLookup is returned when the row an upsert just inserted or
// conflicted with cannot be read back. It indicates an integrity problem and
// is never retried.
var ErrIdentityLookup = errors.New("identity lookup failed")

// ErrMissingKey is returned when a record lacks a field of its unique key.
var ErrMissingKey = errors.New("missing unique key field")

// Every Upsert* call follows the same sequence inside ONE transaction:
//
//  1. INSERT ... ON CONFLICT(<unique key>) DO NOTHING
//  2. on conflict, read the stored row and merge the observation into it
//  3. UPDATE only when the merge changed something
//  4. commit and return the surrogate id
//
// Nothing is held between calls; the unique constraints are the only
// coordination between writers.

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// insertedID returns the new row id, or 0 when the insert hit the conflict.
func insertedID(result sql.Result) (int64, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func lookupErr(entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrIdentityLookup, entity)
	}
	return fmt.Errorf("select existing %s: %w", entity, err)
}

// UpsertStore merges a store observation keyed by code.
func (s *Store) UpsertStore(ctx context.Context, shop Shop) (int64, error) {
	if !present(shop.Code) {
		return 0, fmt.Errorf("upsert store: %w: code", ErrMissingKey)
	}
	// name is NOT NULL; a first observation without one is named by its code
	insertName := shop.Name
	if !present(insertName) {
		insertName = shop.Code
	}

	var id int64
	err := s.inTx(ctx, "upsert store", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO stores (code, name, website, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(code) DO NOTHING
		`, shop.Code, insertName, nullString(shop.Website), s.timestamp())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		existing, err := scanShop(tx.QueryRowContext(ctx, `
			SELECT id, code, name, website FROM stores WHERE code = ?
		`, shop.Code))
		if err != nil {
			return lookupErr("store", err)
		}
		id = existing.ID

		if !existing.merge(shop) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stores SET name = ?, website = ? WHERE id = ?
		`, existing.Name, nullString(existing.Website), existing.ID)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertAccount merges an account observation keyed by (provider, identifier).
func (s *Store) UpsertAccount(ctx context.Context, acct Account) (int64, error) {
	if !present(acct.Provider) || !present(acct.Identifier) {
		return 0, fmt.Errorf("upsert account: %w: provider, account_identifier", ErrMissingKey)
	}

	var id int64
	err := s.inTx(ctx, "upsert account", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (provider, account_identifier, display_name, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(provider, account_identifier) DO NOTHING
		`, acct.Provider, acct.Identifier, nullString(acct.DisplayName), s.timestamp())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		var existing Account
		err = tx.QueryRowContext(ctx, `
			SELECT id, provider, account_identifier, display_name
			FROM accounts WHERE provider = ? AND account_identifier = ?
		`, acct.Provider, acct.Identifier).Scan(
			&existing.ID, &existing.Provider, &existing.Identifier, optString(&existing.DisplayName),
		)
		if err != nil {
			return lookupErr("account", err)
		}
		id = existing.ID

		if !existing.merge(acct) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE accounts SET display_name = ? WHERE id = ?
		`, nullString(existing.DisplayName), existing.ID)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertSeller merges a seller observation keyed by (store, name, inn).
// An absent INN is part of the key as "".
func (s *Store) UpsertSeller(ctx context.Context, seller Seller) (int64, error) {
	if seller.StoreID == 0 || !present(seller.Name) {
		return 0, fmt.Errorf("upsert seller: %w: store_id, name", ErrMissingKey)
	}
	seller.INN = strings.TrimSpace(seller.INN)

	var id int64
	err := s.inTx(ctx, "upsert seller", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO sellers (store_id, name, inn, legal_entity, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(store_id, name, inn) DO NOTHING
		`, seller.StoreID, seller.Name, seller.INN, nullString(seller.LegalEntity), s.timestamp())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		var existing Seller
		err = tx.QueryRowContext(ctx, `
			SELECT id, store_id, name, inn, legal_entity
			FROM sellers WHERE store_id = ? AND name = ? AND inn = ?
		`, seller.StoreID, seller.Name, seller.INN).Scan(
			&existing.ID, &existing.StoreID, &existing.Name, &existing.INN, optString(&existing.LegalEntity),
		)
		if err != nil {
			return lookupErr("seller", err)
		}
		id = existing.ID

		if !existing.merge(seller) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sellers SET legal_entity = ? WHERE id = ?
		`, nullString(existing.LegalEntity), existing.ID)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertProduct merges a product observation keyed by canonical key.
// updated_at moves only when a field was refined.
func (s *Store) UpsertProduct(ctx context.Context, p Product) (int64, error) {
	if !present(p.CanonicalKey) {
		return 0, fmt.Errorf("upsert product: %w: canonical_key", ErrMissingKey)
	}

	var id int64
	err := s.inTx(ctx, "upsert product", func(tx *sql.Tx) error {
		now := s.timestamp()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO products (canonical_key, title_full, title_short, brand, model, sku, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(canonical_key) DO NOTHING
		`,
			p.CanonicalKey,
			nullString(p.TitleFull),
			nullString(p.TitleShort),
			nullString(p.Brand),
			nullString(p.Model),
			nullString(p.SKU),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		existing, err := scanProduct(tx.QueryRowContext(ctx,
			selectProduct+` WHERE canonical_key = ?`, p.CanonicalKey))
		if err != nil {
			return lookupErr("product", err)
		}
		id = existing.ID

		if !existing.merge(p) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET title_full = ?, title_short = ?, brand = ?, model = ?, sku = ?, updated_at = ?
			WHERE id = ?
		`,
			nullString(existing.TitleFull),
			nullString(existing.TitleShort),
			nullString(existing.Brand),
			nullString(existing.Model),
			nullString(existing.SKU),
			now,
			existing.ID,
		)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertOrder merges an order observation keyed by dedupe key.
//
// When the store carries a correlation id, an insert or a refining merge
// appends an audit row in the same transaction.
func (s *Store) UpsertOrder(ctx context.Context, o Order) (int64, error) {
	if !present(o.DedupeKey) || o.StoreID == 0 {
		return 0, fmt.Errorf("upsert order: %w: dedupe_key, store_id", ErrMissingKey)
	}
	o.OrderDate, o.PaidDate, o.DeliveredDate = utc(o.OrderDate), utc(o.PaidDate), utc(o.DeliveredDate)

	var id int64
	err := s.inTx(ctx, "upsert order", func(tx *sql.Tx) error {
		now := s.timestamp()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				store_id, account_id, seller_id, external_order_id, dedupe_key,
				order_datetime, paid_datetime, delivered_datetime, currency,
				subtotal_amount, shipping_amount, discount_amount, total_amount,
				status, source_url, raw_ref, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(dedupe_key) DO NOTHING
		`,
			o.StoreID,
			o.AccountID,
			o.SellerID,
			nullString(o.ExternalOrderID),
			o.DedupeKey,
			o.OrderDate,
			o.PaidDate,
			o.DeliveredDate,
			nullString(o.Currency),
			o.Subtotal,
			o.Shipping,
			o.Discount,
			o.Total,
			nullString(o.Status),
			nullString(o.SourceURL),
			nullString(o.RawRef),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil {
			return err
		}
		if id != 0 {
			o.ID, o.CreatedAt, o.UpdatedAt = id, now, now
			return s.auditTx(ctx, tx, "order", id, "insert", nil, o)
		}

		existing, err := scanOrder(tx.QueryRowContext(ctx,
			selectOrder+` WHERE dedupe_key = ?`, o.DedupeKey))
		if err != nil {
			return lookupErr("order", err)
		}
		id = existing.ID

		before := existing
		if !existing.merge(o) {
			return nil
		}
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET
				account_id = ?, seller_id = ?, external_order_id = ?,
				order_datetime = ?, paid_datetime = ?, delivered_datetime = ?, currency = ?,
				subtotal_amount = ?, shipping_amount = ?, discount_amount = ?, total_amount = ?,
				status = ?, source_url = ?, raw_ref = ?, updated_at = ?
			WHERE id = ?
		`,
			existing.AccountID,
			existing.SellerID,
			nullString(existing.ExternalOrderID),
			existing.OrderDate,
			existing.PaidDate,
			existing.DeliveredDate,
			nullString(existing.Currency),
			existing.Subtotal,
			existing.Shipping,
			existing.Discount,
			existing.Total,
			nullString(existing.Status),
			nullString(existing.SourceURL),
			nullString(existing.RawRef),
			now,
			existing.ID,
		)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return s.auditTx(ctx, tx, "order", id, "update", before, existing)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertOrderItem merges a line item keyed by (order, dedupe key).
func (s *Store) UpsertOrderItem(ctx context.Context, it OrderItem) (int64, error) {
	if it.OrderID == 0 || !present(it.DedupeKey) {
		return 0, fmt.Errorf("upsert order item: %w: order_id, dedupe_key", ErrMissingKey)
	}

	var id int64
	err := s.inTx(ctx, "upsert order item", func(tx *sql.Tx) error {
		now := s.timestamp()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, external_item_id, dedupe_key, product_id,
				title_full, title_short, store_category_path, unified_category_path,
				brand, model, sku, quantity, unit_price, discount_amount, shipping_amount,
				total_amount, currency, product_url, order_url, receipt_url,
				created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(order_id, dedupe_key) DO NOTHING
		`,
			it.OrderID,
			nullString(it.ExternalItemID),
			it.DedupeKey,
			it.ProductID,
			it.TitleFull,
			nullString(it.TitleShort),
			nullString(it.StoreCategoryPath),
			nullString(it.UnifiedCategoryPath),
			nullString(it.Brand),
			nullString(it.Model),
			nullString(it.SKU),
			it.Quantity,
			it.UnitPrice,
			it.Discount,
			it.Shipping,
			it.Total,
			nullString(it.Currency),
			nullString(it.ProductURL),
			nullString(it.OrderURL),
			nullString(it.ReceiptURL),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil {
			return err
		}
		if id != 0 {
			it.ID, it.CreatedAt, it.UpdatedAt = id, now, now
			return s.auditTx(ctx, tx, "order_item", id, "insert", nil, it)
		}

		existing, err := scanOrderItem(tx.QueryRowContext(ctx,
			selectOrderItem+` WHERE order_id = ? AND dedupe_key = ?`, it.OrderID, it.DedupeKey))
		if err != nil {
			return lookupErr("order item", err)
		}
		id = existing.ID

		before := existing
		if !existing.merge(it) {
			return nil
		}
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items SET
				external_item_id = ?, product_id = ?, title_full = ?, title_short = ?,
				store_category_path = ?, unified_category_path = ?, brand = ?, model = ?, sku = ?,
				quantity = ?, unit_price = ?, discount_amount = ?, shipping_amount = ?, total_amount = ?,
				currency = ?, product_url = ?, order_url = ?, receipt_url = ?, updated_at = ?
			WHERE id = ?
		`,
			nullString(existing.ExternalItemID),
			existing.ProductID,
			existing.TitleFull,
			nullString(existing.TitleShort),
			nullString(existing.StoreCategoryPath),
			nullString(existing.UnifiedCategoryPath),
			nullString(existing.Brand),
			nullString(existing.Model),
			nullString(existing.SKU),
			existing.Quantity,
			existing.UnitPrice,
			existing.Discount,
			existing.Shipping,
			existing.Total,
			nullString(existing.Currency),
			nullString(existing.ProductURL),
			nullString(existing.OrderURL),
			nullString(existing.ReceiptURL),
			now,
			existing.ID,
		)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return s.auditTx(ctx, tx, "order_item", id, "update", before, existing)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertProductAttribute merges an attribute keyed by (item, key, value key).
func (s *Store) UpsertProductAttribute(ctx context.Context, a ProductAttribute) (int64, error) {
	if a.ItemID == 0 || !present(a.Key) || a.ValueKey == "" {
		return 0, fmt.Errorf("upsert product attribute: %w: item_id, attr_key, value_key", ErrMissingKey)
	}
	if a.ValueType == "" {
		a.ValueType = "text"
	}

	var id int64
	err := s.inTx(ctx, "upsert product attribute", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO product_attributes (
				product_id, item_id, attr_key, value_key, value_type,
				value_text, value_number, value_bool, value_json_raw, source
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id, attr_key, value_key) DO NOTHING
		`,
			a.ProductID,
			a.ItemID,
			a.Key,
			a.ValueKey,
			a.ValueType,
			nullString(a.ValueText),
			a.ValueNumber,
			a.ValueBool,
			nullString(a.ValueJSONRaw),
			nullString(a.Source),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		existing, err := scanProductAttribute(tx.QueryRowContext(ctx,
			selectProductAttribute+` WHERE item_id = ? AND attr_key = ? AND value_key = ?`,
			a.ItemID, a.Key, a.ValueKey))
		if err != nil {
			return lookupErr("product attribute", err)
		}
		id = existing.ID

		if !existing.merge(a) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE product_attributes SET product_id = ?, value_json_raw = ?, source = ?
			WHERE id = ?
		`, existing.ProductID, nullString(existing.ValueJSONRaw), nullString(existing.Source), existing.ID)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertMedia records a stored payload keyed by (item, sha256, source url).
// downloaded_at is bumped on every call.
func (s *Store) UpsertMedia(ctx context.Context, m Media) (int64, error) {
	if m.ItemID == 0 || m.SHA256 == "" || m.LocalPath == "" {
		return 0, fmt.Errorf("upsert media: %w: related_item_id, sha256, local_path_abs", ErrMissingKey)
	}
	m.SourceURL = strings.TrimSpace(m.SourceURL)

	var id int64
	err := s.inTx(ctx, "upsert media", func(tx *sql.Tx) error {
		now := s.timestamp()
		meta, err := marshalJSON(nilIfEmpty(m.Meta))
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO media (
				related_item_id, source_url, local_path_abs, mime,
				sha256, size_bytes, source, meta_json, downloaded_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(related_item_id, sha256, source_url) DO NOTHING
		`,
			m.ItemID,
			m.SourceURL,
			m.LocalPath,
			nullString(m.MIME),
			m.SHA256,
			m.Size,
			nullString(m.Source),
			meta,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		existing, err := scanMedia(tx.QueryRowContext(ctx,
			selectMedia+` WHERE related_item_id = ? AND sha256 = ? AND source_url = ?`,
			m.ItemID, m.SHA256, m.SourceURL))
		if err != nil {
			return lookupErr("media", err)
		}
		id = existing.ID

		existing.merge(m)
		meta, err = marshalJSON(nilIfEmpty(existing.Meta))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE media SET local_path_abs = ?, mime = ?, size_bytes = ?, source = ?, meta_json = ?, downloaded_at = ?
			WHERE id = ?
		`, existing.LocalPath, nullString(existing.MIME), existing.Size, nullString(existing.Source), meta, now, existing.ID)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertRawMessage merges a collected message keyed by (source, message id).
func (s *Store) UpsertRawMessage(ctx context.Context, msg RawMessage) (int64, error) {
	if !present(msg.Source) || !present(msg.ExternalMessageID) {
		return 0, fmt.Errorf("upsert raw message: %w: source, external_message_id", ErrMissingKey)
	}
	msg.MessageDate = utc(msg.MessageDate)

	var id int64
	err := s.inTx(ctx, "upsert raw message", func(tx *sql.Tx) error {
		recipients, rawJSON, err := marshalRawMessage(msg)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO raw_messages (
				source, account_id, external_message_id, thread_id, message_datetime,
				subject, sender, recipients, raw_text, raw_html, raw_json, created_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source, external_message_id) DO NOTHING
		`,
			msg.Source,
			msg.AccountID,
			msg.ExternalMessageID,
			nullString(msg.ThreadID),
			msg.MessageDate,
			nullString(msg.Subject),
			nullString(msg.Sender),
			recipients,
			nullString(msg.RawText),
			nullString(msg.RawHTML),
			rawJSON,
			s.timestamp(),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if id, err = insertedID(result); err != nil || id != 0 {
			return err
		}

		existing, err := scanRawMessage(tx.QueryRowContext(ctx,
			selectRawMessage+` WHERE source = ? AND external_message_id = ?`,
			msg.Source, msg.ExternalMessageID))
		if err != nil {
			return lookupErr("raw message", err)
		}
		id = existing.ID

		if !existing.merge(msg) {
			return nil
		}
		recipients, rawJSON, err = marshalRawMessage(existing)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE raw_messages SET
				account_id = ?, thread_id = ?, message_datetime = ?, subject = ?, sender = ?,
				recipients = ?, raw_text = ?, raw_html = ?, raw_json = ?
			WHERE id = ?
		`,
			existing.AccountID,
			nullString(existing.ThreadID),
			existing.MessageDate,
			nullString(existing.Subject),
			nullString(existing.Sender),
			recipients,
			nullString(existing.RawText),
			nullString(existing.RawHTML),
			rawJSON,
			existing.ID,
		)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RawRef is the reference an order keeps to the message it was parsed from.
func RawRef(rawMessageID int64) string {
	return "raw_messages:" + strconv.FormatInt(rawMessageID, 10)
}

func marshalRawMessage(msg RawMessage) (recipients, rawJSON any, err error) {
	if len(msg.Recipients) > 0 {
		if recipients, err = marshalJSON(msg.Recipients); err != nil {
			return nil, nil, err
		}
	}
	if rawJSON, err = marshalJSON(nilIfEmpty(msg.RawJSON)); err != nil {
		return nil, nil, err
	}
	return recipients, rawJSON, nil
}

// nilIfEmpty keeps an empty map from being stored as "{}".
func nilIfEmpty(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
