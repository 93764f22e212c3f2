package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"staysync/models"
)

// PostgresStore is the production backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Users
// =============================================================================

func (s *PostgresStore) GetDefaultOwner(ctx context.Context) (*models.User, error) {
	query := `
		SELECT id, email, name, role, created_at
		FROM users WHERE role IN ('ADMIN', 'OWNER')
		ORDER BY created_at ASC LIMIT 1`

	var u models.User
	err := s.pool.QueryRow(ctx, query).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// Properties
// =============================================================================

func (s *PostgresStore) GetPropertyByListingID(ctx context.Context, externalListingID string) (*models.Property, error) {
	query := `
		SELECT id, external_listing_id, owner_id, name, address, city, country, postal_code,
			bedrooms, bathrooms, max_guests, last_synced_at, created_at, updated_at
		FROM properties WHERE external_listing_id = $1`

	var p models.Property
	err := s.pool.QueryRow(ctx, query, externalListingID).Scan(
		&p.ID, &p.ExternalListingID, &p.OwnerID, &p.Name, &p.Address, &p.City, &p.Country,
		&p.PostalCode, &p.Bedrooms, &p.Bathrooms, &p.MaxGuests, &p.LastSyncedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListProperties(ctx context.Context) ([]models.Property, error) {
	query := `
		SELECT id, external_listing_id, owner_id, name, address, city, country, postal_code,
			bedrooms, bathrooms, max_guests, last_synced_at, created_at, updated_at
		FROM properties ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(
			&p.ID, &p.ExternalListingID, &p.OwnerID, &p.Name, &p.Address, &p.City, &p.Country,
			&p.PostalCode, &p.Bedrooms, &p.Bathrooms, &p.MaxGuests, &p.LastSyncedAt,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			id, external_listing_id, owner_id, name, address, city, country, postal_code,
			bedrooms, bathrooms, max_guests, last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_listing_id) DO UPDATE SET
			name = EXCLUDED.name,
			address = COALESCE(NULLIF(EXCLUDED.address, ''), properties.address),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), properties.city),
			country = COALESCE(NULLIF(EXCLUDED.country, ''), properties.country),
			postal_code = COALESCE(NULLIF(EXCLUDED.postal_code, ''), properties.postal_code),
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			max_guests = EXCLUDED.max_guests,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.ExternalListingID, p.OwnerID, p.Name, p.Address, p.City, p.Country,
		p.PostalCode, p.Bedrooms, p.Bathrooms, p.MaxGuests, p.LastSyncedAt,
		p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) TouchPropertySync(ctx context.Context, id uuid.UUID, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE properties SET last_synced_at = $1, updated_at = NOW() WHERE id = $2`, t, id)
	return err
}

// =============================================================================
// Listing snapshots
// =============================================================================

func (s *PostgresStore) LatestSnapshot(ctx context.Context, propertyID uuid.UUID) (*models.ListingSnapshot, error) {
	query := `
		SELECT id, property_id, content_hash, title, description, amenities, photos, house_rules, captured_at
		FROM listing_snapshots WHERE property_id = $1
		ORDER BY captured_at DESC, id DESC LIMIT 1`

	var snap models.ListingSnapshot
	err := s.pool.QueryRow(ctx, query, propertyID).Scan(
		&snap.ID, &snap.PropertyID, &snap.ContentHash, &snap.Title, &snap.Description,
		&snap.Amenities, &snap.Photos, &snap.HouseRules, &snap.CapturedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *models.ListingSnapshot) error {
	query := `
		INSERT INTO listing_snapshots
			(property_id, content_hash, title, description, amenities, photos, house_rules, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (property_id, content_hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		snap.PropertyID, snap.ContentHash, snap.Title, snap.Description,
		snap.Amenities, snap.Photos, snap.HouseRules, snap.CapturedAt)
	return err
}

// =============================================================================
// Guests
// =============================================================================

func (s *PostgresStore) GetGuestByExternalID(ctx context.Context, externalGuestID string) (*models.Guest, error) {
	if externalGuestID == "" {
		return nil, nil
	}
	return s.getGuest(ctx, `
		SELECT id, external_guest_id, name, email, phone, created_at, updated_at
		FROM guests WHERE external_guest_id = $1`, externalGuestID)
}

func (s *PostgresStore) GetGuestByEmail(ctx context.Context, email string) (*models.Guest, error) {
	if email == "" {
		return nil, nil
	}
	return s.getGuest(ctx, `
		SELECT id, external_guest_id, name, email, phone, created_at, updated_at
		FROM guests WHERE email = $1 ORDER BY created_at LIMIT 1`, email)
}

func (s *PostgresStore) getGuest(ctx context.Context, query string, arg any) (*models.Guest, error) {
	var g models.Guest
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&g.ID, &g.ExternalGuestID, &g.Name, &g.Email, &g.Phone, &g.CreatedAt, &g.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) UpsertGuest(ctx context.Context, g *models.Guest) error {
	query := `
		INSERT INTO guests (id, external_guest_id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			external_guest_id = COALESCE(NULLIF(EXCLUDED.external_guest_id, ''), guests.external_guest_id),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), guests.name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), guests.email),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), guests.phone),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		g.ID, g.ExternalGuestID, g.Name, g.Email, g.Phone, g.CreatedAt, g.UpdatedAt)
	return err
}

// =============================================================================
// Reservations
// =============================================================================

func (s *PostgresStore) GetReservationByExternalID(ctx context.Context, externalReservationID string) (*models.Reservation, error) {
	query := `
		SELECT id, external_reservation_id, property_id, guest_id, status, check_in, check_out,
			nights, total_price, nightly_rate, cleaning_fee, channel, synced_at, created_at, updated_at
		FROM reservations WHERE external_reservation_id = $1`

	var r models.Reservation
	err := s.pool.QueryRow(ctx, query, externalReservationID).Scan(
		&r.ID, &r.ExternalReservationID, &r.PropertyID, &r.GuestID, &r.Status,
		&r.CheckIn, &r.CheckOut, &r.Nights, &r.TotalPrice, &r.NightlyRate,
		&r.CleaningFee, &r.Channel, &r.SyncedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (
			id, external_reservation_id, property_id, guest_id, status, check_in, check_out,
			nights, total_price, nightly_rate, cleaning_fee, channel, synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_reservation_id) DO UPDATE SET
			guest_id = COALESCE(EXCLUDED.guest_id, reservations.guest_id),
			status = EXCLUDED.status,
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			nights = EXCLUDED.nights,
			total_price = COALESCE(EXCLUDED.total_price, reservations.total_price),
			nightly_rate = COALESCE(EXCLUDED.nightly_rate, reservations.nightly_rate),
			cleaning_fee = COALESCE(EXCLUDED.cleaning_fee, reservations.cleaning_fee),
			channel = COALESCE(NULLIF(EXCLUDED.channel, ''), reservations.channel),
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.ExternalReservationID, r.PropertyID, r.GuestID, r.Status, r.CheckIn,
		r.CheckOut, r.Nights, r.TotalPrice, r.NightlyRate, r.CleaningFee, r.Channel,
		r.SyncedAt, r.CreatedAt, r.UpdatedAt)
	return err
}

// =============================================================================
// Message threads and messages
// =============================================================================

func (s *PostgresStore) GetThreadByExternalID(ctx context.Context, externalThreadID string) (*models.MessageThread, error) {
	query := `
		SELECT id, external_thread_id, property_id, reservation_id, guest_id, status,
			last_message_at, created_at, updated_at
		FROM message_threads WHERE external_thread_id = $1`

	var th models.MessageThread
	err := s.pool.QueryRow(ctx, query, externalThreadID).Scan(
		&th.ID, &th.ExternalThreadID, &th.PropertyID, &th.ReservationID, &th.GuestID,
		&th.Status, &th.LastMessageAt, &th.CreatedAt, &th.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &th, nil
}

func (s *PostgresStore) UpsertThread(ctx context.Context, th *models.MessageThread) error {
	query := `
		INSERT INTO message_threads (
			id, external_thread_id, property_id, reservation_id, guest_id, status,
			last_message_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_thread_id) DO UPDATE SET
			reservation_id = COALESCE(EXCLUDED.reservation_id, message_threads.reservation_id),
			guest_id = COALESCE(EXCLUDED.guest_id, message_threads.guest_id),
			status = EXCLUDED.status,
			last_message_at = COALESCE(EXCLUDED.last_message_at, message_threads.last_message_at),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		th.ID, th.ExternalThreadID, th.PropertyID, th.ReservationID, th.GuestID,
		th.Status, th.LastMessageAt, th.CreatedAt, th.UpdatedAt)
	return err
}

func (s *PostgresStore) InsertMessageIfAbsent(ctx context.Context, m *models.Message) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, external_message_id, thread_id, sender, content, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_message_id) DO NOTHING`,
		m.ID, m.ExternalMessageID, m.ThreadID, m.Sender, m.Content, m.SentAt, m.CreatedAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetThreadLastMessage(ctx context.Context, threadID uuid.UUID, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE message_threads SET last_message_at = $1, updated_at = NOW() WHERE id = $2`, t, threadID)
	return err
}

// =============================================================================
// Event log
// =============================================================================

func (s *PostgresStore) RecordEvent(ctx context.Context, source, externalID, eventType string, payload json.RawMessage) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO event_log (source, external_id, event_type, payload, received_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (source, external_id) DO NOTHING`,
		source, externalID, eventType, payload)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) HasEvent(ctx context.Context, source, externalID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM event_log WHERE source = $1 AND external_id = $2 LIMIT 1`,
		source, externalID).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// =============================================================================
// Sync bookkeeping
// =============================================================================

func (s *PostgresStore) UpsertCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_checkpoints (integration, entity_type, total_synced, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (integration, entity_type) DO UPDATE SET
			total_synced = EXCLUDED.total_synced,
			completed_at = EXCLUDED.completed_at`,
		cp.Integration, cp.EntityType, cp.TotalSynced, cp.CompletedAt)
	return err
}

func (s *PostgresStore) RecordHealthSuccess(ctx context.Context, name string, metadata json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO integration_health (name, status, last_success_at, consecutive_failures, last_error, metadata, updated_at)
		VALUES ($1, 'healthy', NOW(), 0, '', $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			status = 'healthy',
			last_success_at = NOW(),
			consecutive_failures = 0,
			last_error = '',
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`,
		name, metadata)
	return err
}

func (s *PostgresStore) RecordHealthFailure(ctx context.Context, name, errMsg string) (int, error) {
	var failures int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO integration_health (name, status, last_failure_at, consecutive_failures, last_error, updated_at)
		VALUES ($1, 'error', NOW(), 1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			status = 'error',
			last_failure_at = NOW(),
			consecutive_failures = integration_health.consecutive_failures + 1,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
		RETURNING consecutive_failures`,
		name, errMsg).Scan(&failures)
	return failures, err
}

func (s *PostgresStore) GetIntegrationHealth(ctx context.Context, name string) (*models.IntegrationHealth, error) {
	query := `
		SELECT name, status, last_success_at, last_failure_at, consecutive_failures, last_error, metadata, updated_at
		FROM integration_health WHERE name = $1`

	var h models.IntegrationHealth
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&h.Name, &h.Status, &h.LastSuccessAt, &h.LastFailureAt,
		&h.ConsecutiveFailures, &h.LastError, &h.Metadata, &h.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// =============================================================================
// Webhook registrations
// =============================================================================

func (s *PostgresStore) GetWebhookRegistration(ctx context.Context, topic string) (*models.WebhookRegistration, error) {
	var reg models.WebhookRegistration
	err := s.pool.QueryRow(ctx, `
		SELECT topic, callback_url, upstream_id, registered_at
		FROM webhook_registrations WHERE topic = $1`, topic).Scan(
		&reg.Topic, &reg.CallbackURL, &reg.UpstreamID, &reg.RegisteredAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *PostgresStore) UpsertWebhookRegistration(ctx context.Context, reg *models.WebhookRegistration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_registrations (topic, callback_url, upstream_id, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (topic) DO UPDATE SET
			callback_url = EXCLUDED.callback_url,
			upstream_id = EXCLUDED.upstream_id,
			registered_at = EXCLUDED.registered_at`,
		reg.Topic, reg.CallbackURL, reg.UpstreamID, reg.RegisteredAt)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *PostgresStore) PendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		if err := rows.Scan(&cmd.ID, &cmd.Command, &cmd.Params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE commands SET processed_at = NOW() WHERE id = $1`, id)
	return err
}

// =============================================================================
// Photo mirror queue
// =============================================================================

func (s *PostgresStore) EnqueuePhoto(ctx context.Context, propertyID uuid.UUID, url string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO photo_mirrors (url, property_id, status, created_at)
		VALUES ($1, $2, 'pending', NOW())
		ON CONFLICT (url) DO NOTHING`,
		url, propertyID)
	return err
}

func (s *PostgresStore) PendingPhotos(ctx context.Context, limit int) ([]models.PhotoMirror, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT url, property_id, status, s3_key, content_hash, size_bytes, attempts, created_at, mirrored_at
		FROM photo_mirrors WHERE status = 'pending' AND attempts < 5
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []models.PhotoMirror
	for rows.Next() {
		var ph models.PhotoMirror
		if err := rows.Scan(&ph.URL, &ph.PropertyID, &ph.Status, &ph.S3Key, &ph.ContentHash,
			&ph.SizeBytes, &ph.Attempts, &ph.CreatedAt, &ph.MirroredAt); err != nil {
			return nil, err
		}
		photos = append(photos, ph)
	}
	return photos, rows.Err()
}

func (s *PostgresStore) MarkPhotoMirrored(ctx context.Context, url, s3Key, contentHash string, sizeBytes int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE photo_mirrors SET status = 'mirrored', s3_key = $1, content_hash = $2,
			size_bytes = $3, mirrored_at = NOW() WHERE url = $4`,
		s3Key, contentHash, sizeBytes, url)
	return err
}

func (s *PostgresStore) MarkPhotoFailed(ctx context.Context, url string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE photo_mirrors SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= 5 THEN 'failed' ELSE 'pending' END
		WHERE url = $1`, url)
	return err
}
