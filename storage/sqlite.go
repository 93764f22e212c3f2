package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"staysync/models"
)

// SQLiteStore is the default backend, used for single-host deployments and
// tests. Schema mirrors the Postgres backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE,
		name TEXT,
		role TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		external_listing_id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		name TEXT,
		address TEXT,
		city TEXT,
		country TEXT,
		postal_code TEXT,
		bedrooms INTEGER DEFAULT 0,
		bathrooms INTEGER DEFAULT 0,
		max_guests INTEGER DEFAULT 0,
		last_synced_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS listing_snapshots (
		id INTEGER PRIMARY KEY,
		property_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		title TEXT,
		description TEXT,
		amenities JSON,
		photos JSON,
		house_rules TEXT,
		captured_at DATETIME,
		UNIQUE(property_id, content_hash),
		FOREIGN KEY (property_id) REFERENCES properties(id)
	);

	CREATE TABLE IF NOT EXISTS guests (
		id TEXT PRIMARY KEY,
		external_guest_id TEXT,
		name TEXT,
		email TEXT,
		phone TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		external_reservation_id TEXT NOT NULL UNIQUE,
		property_id TEXT NOT NULL,
		guest_id TEXT,
		status TEXT,
		check_in DATETIME NOT NULL,
		check_out DATETIME NOT NULL,
		nights INTEGER DEFAULT 0,
		total_price REAL,
		nightly_rate REAL,
		cleaning_fee REAL,
		channel TEXT,
		synced_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (property_id) REFERENCES properties(id)
	);

	CREATE TABLE IF NOT EXISTS message_threads (
		id TEXT PRIMARY KEY,
		external_thread_id TEXT NOT NULL UNIQUE,
		property_id TEXT NOT NULL,
		reservation_id TEXT,
		guest_id TEXT,
		status TEXT DEFAULT 'open',
		last_message_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		external_message_id TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL,
		sender TEXT,
		content TEXT,
		sent_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS event_log (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		external_id TEXT NOT NULL,
		event_type TEXT,
		payload JSON,
		received_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, external_id)
	);

	CREATE TABLE IF NOT EXISTS sync_checkpoints (
		integration TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		total_synced INTEGER DEFAULT 0,
		completed_at DATETIME,
		PRIMARY KEY (integration, entity_type)
	);

	CREATE TABLE IF NOT EXISTS integration_health (
		name TEXT PRIMARY KEY,
		status TEXT,
		last_success_at DATETIME,
		last_failure_at DATETIME,
		consecutive_failures INTEGER DEFAULT 0,
		last_error TEXT,
		metadata JSON,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS webhook_registrations (
		topic TEXT PRIMARY KEY,
		callback_url TEXT,
		upstream_id TEXT,
		registered_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS photo_mirrors (
		url TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		status TEXT DEFAULT 'pending',
		s3_key TEXT,
		content_hash TEXT,
		size_bytes INTEGER DEFAULT 0,
		attempts INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		mirrored_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_property ON listing_snapshots(property_id, captured_at);
	CREATE INDEX IF NOT EXISTS idx_guests_external ON guests(external_guest_id);
	CREATE INDEX IF NOT EXISTS idx_guests_email ON guests(email);
	CREATE INDEX IF NOT EXISTS idx_reservations_property ON reservations(property_id, check_in);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_photos_pending ON photo_mirrors(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetDefaultOwner(ctx context.Context) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, created_at
		FROM users WHERE role IN ('ADMIN', 'OWNER')
		ORDER BY created_at ASC LIMIT 1`)

	var u models.User
	var id string
	err := row.Scan(&id, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser exists for the portal and for tests; the sync engine itself only
// reads users.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.Name, u.Role, u.CreatedAt)
	return err
}

func (s *SQLiteStore) GetPropertyByListingID(ctx context.Context, externalListingID string) (*models.Property, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_listing_id, owner_id, name, address, city, country, postal_code,
			bedrooms, bathrooms, max_guests, last_synced_at, created_at, updated_at
		FROM properties WHERE external_listing_id = ?`, externalListingID)
	return scanProperty(row)
}

func (s *SQLiteStore) ListProperties(ctx context.Context) ([]models.Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_listing_id, owner_id, name, address, city, country, postal_code,
			bedrooms, bathrooms, max_guests, last_synced_at, created_at, updated_at
		FROM properties ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (*models.Property, error) {
	var p models.Property
	var id, ownerID string
	var lastSynced sql.NullTime
	err := row.Scan(&id, &p.ExternalListingID, &ownerID, &p.Name, &p.Address, &p.City,
		&p.Country, &p.PostalCode, &p.Bedrooms, &p.Bathrooms, &p.MaxGuests,
		&lastSynced, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if p.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		p.LastSyncedAt = &lastSynced.Time
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, external_listing_id, owner_id, name, address, city, country,
			postal_code, bedrooms, bathrooms, max_guests, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_listing_id) DO UPDATE SET
			name = excluded.name,
			address = COALESCE(NULLIF(excluded.address, ''), address),
			city = COALESCE(NULLIF(excluded.city, ''), city),
			country = COALESCE(NULLIF(excluded.country, ''), country),
			postal_code = COALESCE(NULLIF(excluded.postal_code, ''), postal_code),
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			max_guests = excluded.max_guests,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		p.ID.String(), p.ExternalListingID, p.OwnerID.String(), p.Name, p.Address, p.City,
		p.Country, p.PostalCode, p.Bedrooms, p.Bathrooms, p.MaxGuests,
		p.LastSyncedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *SQLiteStore) TouchPropertySync(ctx context.Context, id uuid.UUID, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE properties SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		t, t, id.String())
	return err
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, propertyID uuid.UUID) (*models.ListingSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, property_id, content_hash, title, description, amenities, photos, house_rules, captured_at
		FROM listing_snapshots WHERE property_id = ?
		ORDER BY captured_at DESC, id DESC LIMIT 1`, propertyID.String())

	var snap models.ListingSnapshot
	var pid string
	var amenities, photos sql.NullString
	err := row.Scan(&snap.ID, &pid, &snap.ContentHash, &snap.Title, &snap.Description,
		&amenities, &photos, &snap.HouseRules, &snap.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.PropertyID, err = uuid.Parse(pid); err != nil {
		return nil, err
	}
	if amenities.Valid {
		snap.Amenities = json.RawMessage(amenities.String)
	}
	if photos.Valid {
		snap.Photos = json.RawMessage(photos.String)
	}
	return &snap, nil
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *models.ListingSnapshot) error {
	// The (property_id, content_hash) constraint makes a concurrent
	// duplicate capture a silent no-op.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO listing_snapshots
			(property_id, content_hash, title, description, amenities, photos, house_rules, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.PropertyID.String(), snap.ContentHash, snap.Title, snap.Description,
		nullableJSON(snap.Amenities), nullableJSON(snap.Photos), snap.HouseRules, snap.CapturedAt)
	return err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *SQLiteStore) GetGuestByExternalID(ctx context.Context, externalGuestID string) (*models.Guest, error) {
	if externalGuestID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_guest_id, name, email, phone, created_at, updated_at
		FROM guests WHERE external_guest_id = ?`, externalGuestID)
	return scanGuest(row)
}

func (s *SQLiteStore) GetGuestByEmail(ctx context.Context, email string) (*models.Guest, error) {
	if email == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_guest_id, name, email, phone, created_at, updated_at
		FROM guests WHERE email = ? ORDER BY created_at LIMIT 1`, email)
	return scanGuest(row)
}

func scanGuest(row rowScanner) (*models.Guest, error) {
	var g models.Guest
	var id string
	var extID, name, email, phone sql.NullString
	err := row.Scan(&id, &extID, &name, &email, &phone, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if g.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	g.ExternalGuestID = extID.String
	g.Name = name.String
	g.Email = email.String
	g.Phone = phone.String
	return &g, nil
}

func (s *SQLiteStore) UpsertGuest(ctx context.Context, g *models.Guest) error {
	// Newer non-empty values win; an upstream null never blanks a field.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guests (id, external_guest_id, name, email, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_guest_id = COALESCE(NULLIF(excluded.external_guest_id, ''), external_guest_id),
			name = COALESCE(NULLIF(excluded.name, ''), name),
			email = COALESCE(NULLIF(excluded.email, ''), email),
			phone = COALESCE(NULLIF(excluded.phone, ''), phone),
			updated_at = excluded.updated_at`,
		g.ID.String(), g.ExternalGuestID, g.Name, g.Email, g.Phone, g.CreatedAt, g.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetReservationByExternalID(ctx context.Context, externalReservationID string) (*models.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_reservation_id, property_id, guest_id, status, check_in, check_out,
			nights, total_price, nightly_rate, cleaning_fee, channel, synced_at, created_at, updated_at
		FROM reservations WHERE external_reservation_id = ?`, externalReservationID)

	var r models.Reservation
	var id, propertyID string
	var guestID, channel sql.NullString
	var total, nightly, cleaning sql.NullFloat64
	err := row.Scan(&id, &r.ExternalReservationID, &propertyID, &guestID, &r.Status,
		&r.CheckIn, &r.CheckOut, &r.Nights, &total, &nightly, &cleaning, &channel,
		&r.SyncedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if r.PropertyID, err = uuid.Parse(propertyID); err != nil {
		return nil, err
	}
	if guestID.Valid {
		gid, err := uuid.Parse(guestID.String)
		if err != nil {
			return nil, err
		}
		r.GuestID = &gid
	}
	if total.Valid {
		r.TotalPrice = &total.Float64
	}
	if nightly.Valid {
		r.NightlyRate = &nightly.Float64
	}
	if cleaning.Valid {
		r.CleaningFee = &cleaning.Float64
	}
	r.Channel = channel.String
	return &r, nil
}

func (s *SQLiteStore) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	var guestID any
	if r.GuestID != nil {
		guestID = r.GuestID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reservations (id, external_reservation_id, property_id, guest_id, status,
			check_in, check_out, nights, total_price, nightly_rate, cleaning_fee, channel,
			synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_reservation_id) DO UPDATE SET
			guest_id = COALESCE(excluded.guest_id, guest_id),
			status = excluded.status,
			check_in = excluded.check_in,
			check_out = excluded.check_out,
			nights = excluded.nights,
			total_price = COALESCE(excluded.total_price, total_price),
			nightly_rate = COALESCE(excluded.nightly_rate, nightly_rate),
			cleaning_fee = COALESCE(excluded.cleaning_fee, cleaning_fee),
			channel = COALESCE(NULLIF(excluded.channel, ''), channel),
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at`,
		r.ID.String(), r.ExternalReservationID, r.PropertyID.String(), guestID, r.Status,
		r.CheckIn, r.CheckOut, r.Nights, r.TotalPrice, r.NightlyRate, r.CleaningFee,
		r.Channel, r.SyncedAt, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetThreadByExternalID(ctx context.Context, externalThreadID string) (*models.MessageThread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_thread_id, property_id, reservation_id, guest_id, status,
			last_message_at, created_at, updated_at
		FROM message_threads WHERE external_thread_id = ?`, externalThreadID)

	var th models.MessageThread
	var id, propertyID string
	var reservationID, guestID sql.NullString
	var lastMessage sql.NullTime
	err := row.Scan(&id, &th.ExternalThreadID, &propertyID, &reservationID, &guestID,
		&th.Status, &lastMessage, &th.CreatedAt, &th.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if th.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if th.PropertyID, err = uuid.Parse(propertyID); err != nil {
		return nil, err
	}
	if reservationID.Valid {
		rid, err := uuid.Parse(reservationID.String)
		if err != nil {
			return nil, err
		}
		th.ReservationID = &rid
	}
	if guestID.Valid {
		gid, err := uuid.Parse(guestID.String)
		if err != nil {
			return nil, err
		}
		th.GuestID = &gid
	}
	if lastMessage.Valid {
		th.LastMessageAt = &lastMessage.Time
	}
	return &th, nil
}

func (s *SQLiteStore) UpsertThread(ctx context.Context, th *models.MessageThread) error {
	var reservationID, guestID any
	if th.ReservationID != nil {
		reservationID = th.ReservationID.String()
	}
	if th.GuestID != nil {
		guestID = th.GuestID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_threads (id, external_thread_id, property_id, reservation_id,
			guest_id, status, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_thread_id) DO UPDATE SET
			reservation_id = COALESCE(excluded.reservation_id, reservation_id),
			guest_id = COALESCE(excluded.guest_id, guest_id),
			status = excluded.status,
			last_message_at = COALESCE(excluded.last_message_at, last_message_at),
			updated_at = excluded.updated_at`,
		th.ID.String(), th.ExternalThreadID, th.PropertyID.String(), reservationID,
		guestID, th.Status, th.LastMessageAt, th.CreatedAt, th.UpdatedAt)
	return err
}

func (s *SQLiteStore) InsertMessageIfAbsent(ctx context.Context, m *models.Message) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, external_message_id, thread_id, sender, content, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ExternalMessageID, m.ThreadID.String(), m.Sender, m.Content, m.SentAt, m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) SetThreadLastMessage(ctx context.Context, threadID uuid.UUID, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_threads SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		t, time.Now(), threadID.String())
	return err
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, source, externalID, eventType string, payload json.RawMessage) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO event_log (source, external_id, event_type, payload, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		source, externalID, eventType, nullableJSON(payload), time.Now())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) HasEvent(ctx context.Context, source, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM event_log WHERE source = ? AND external_id = ? LIMIT 1`,
		source, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) UpsertCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (integration, entity_type, total_synced, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(integration, entity_type) DO UPDATE SET
			total_synced = excluded.total_synced,
			completed_at = excluded.completed_at`,
		cp.Integration, cp.EntityType, cp.TotalSynced, cp.CompletedAt)
	return err
}

func (s *SQLiteStore) RecordHealthSuccess(ctx context.Context, name string, metadata json.RawMessage) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_health (name, status, last_success_at, consecutive_failures, last_error, metadata, updated_at)
		VALUES (?, 'healthy', ?, 0, '', ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = 'healthy',
			last_success_at = excluded.last_success_at,
			consecutive_failures = 0,
			last_error = '',
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		name, now, nullableJSON(metadata), now)
	return err
}

func (s *SQLiteStore) RecordHealthFailure(ctx context.Context, name, errMsg string) (int, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_health (name, status, last_failure_at, consecutive_failures, last_error, updated_at)
		VALUES (?, 'error', ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = 'error',
			last_failure_at = excluded.last_failure_at,
			consecutive_failures = consecutive_failures + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		name, now, errMsg, now)
	if err != nil {
		return 0, err
	}

	var failures int
	err = s.db.QueryRowContext(ctx, `
		SELECT consecutive_failures FROM integration_health WHERE name = ?`, name).Scan(&failures)
	return failures, err
}

func (s *SQLiteStore) GetIntegrationHealth(ctx context.Context, name string) (*models.IntegrationHealth, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, status, last_success_at, last_failure_at, consecutive_failures, last_error, metadata, updated_at
		FROM integration_health WHERE name = ?`, name)

	var h models.IntegrationHealth
	var lastSuccess, lastFailure sql.NullTime
	var lastError, metadata sql.NullString
	err := row.Scan(&h.Name, &h.Status, &lastSuccess, &lastFailure,
		&h.ConsecutiveFailures, &lastError, &metadata, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastSuccess.Valid {
		h.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		h.LastFailureAt = &lastFailure.Time
	}
	h.LastError = lastError.String
	if metadata.Valid {
		h.Metadata = json.RawMessage(metadata.String)
	}
	return &h, nil
}

func (s *SQLiteStore) GetWebhookRegistration(ctx context.Context, topic string) (*models.WebhookRegistration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT topic, callback_url, upstream_id, registered_at
		FROM webhook_registrations WHERE topic = ?`, topic)

	var reg models.WebhookRegistration
	err := row.Scan(&reg.Topic, &reg.CallbackURL, &reg.UpstreamID, &reg.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *SQLiteStore) UpsertWebhookRegistration(ctx context.Context, reg *models.WebhookRegistration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_registrations (topic, callback_url, upstream_id, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			callback_url = excluded.callback_url,
			upstream_id = excluded.upstream_id,
			registered_at = excluded.registered_at`,
		reg.Topic, reg.CallbackURL, reg.UpstreamID, reg.RegisteredAt)
	return err
}

func (s *SQLiteStore) PendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) EnqueuePhoto(ctx context.Context, propertyID uuid.UUID, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO photo_mirrors (url, property_id, status, created_at)
		VALUES (?, ?, 'pending', ?)`,
		url, propertyID.String(), time.Now())
	return err
}

func (s *SQLiteStore) PendingPhotos(ctx context.Context, limit int) ([]models.PhotoMirror, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, property_id, status, s3_key, content_hash, size_bytes, attempts, created_at, mirrored_at
		FROM photo_mirrors WHERE status = 'pending' AND attempts < 5
		ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []models.PhotoMirror
	for rows.Next() {
		var ph models.PhotoMirror
		var pid string
		var s3Key, hash sql.NullString
		var mirroredAt sql.NullTime
		if err := rows.Scan(&ph.URL, &pid, &ph.Status, &s3Key, &hash, &ph.SizeBytes,
			&ph.Attempts, &ph.CreatedAt, &mirroredAt); err != nil {
			return nil, err
		}
		if ph.PropertyID, err = uuid.Parse(pid); err != nil {
			return nil, err
		}
		ph.S3Key = s3Key.String
		ph.ContentHash = hash.String
		if mirroredAt.Valid {
			ph.MirroredAt = &mirroredAt.Time
		}
		photos = append(photos, ph)
	}
	return photos, rows.Err()
}

func (s *SQLiteStore) MarkPhotoMirrored(ctx context.Context, url, s3Key, contentHash string, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE photo_mirrors SET status = 'mirrored', s3_key = ?, content_hash = ?,
			size_bytes = ?, mirrored_at = ? WHERE url = ?`,
		s3Key, contentHash, sizeBytes, time.Now(), url)
	return err
}

func (s *SQLiteStore) MarkPhotoFailed(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE photo_mirrors SET attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= 5 THEN 'failed' ELSE 'pending' END
		WHERE url = ?`, url)
	return err
}
