package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// CreateAccount inserts the account and its directory profile in a single
// transaction so a registered principal always has a profile record.
func (db *PgTchatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Account{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var a Account
	err = tx.QueryRow(
		"INSERT INTO accounts (id, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, email, created_at, updated_at",
		params.Id,
		params.Email,
		params.PasswordHash,
		now,
	).Scan(
		&a.Id,
		&a.Email,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO profiles (id, name, handle, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)",
		params.Id,
		params.Name,
		params.Handle,
		now,
	)
	if err != nil {
		return Account{}, fmt.Errorf("create profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Account{}, fmt.Errorf("commit: %w", err)
	}

	return a, nil
}

func (db *PgTchatRepository) GetAccountById(id string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Email,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgTchatRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Email,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

// DeleteAccount removes the profile record, the account's group memberships
// and finally the account itself. The profile is removed first so a failure
// mid-sequence never leaves an orphaned directory entry behind a deleted
// account.
func (db *PgTchatRepository) DeleteAccount(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM profiles WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM group_members WHERE account_id = $1", id); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}

	res, err := tx.Exec("DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

func (db *PgTchatRepository) GetProfile(id string) (Profile, error) {
	row := db.conn.QueryRow(
		"SELECT p.id, p.name, p.handle, p.phone_number, p.avatar_url, a.email, p.created_at, p.updated_at "+
			"FROM profiles p JOIN accounts a ON p.id = a.id "+
			"WHERE p.id = $1 LIMIT 1",
		id,
	)

	var p Profile
	err := row.Scan(
		&p.Id,
		&p.Name,
		&p.Handle,
		&p.PhoneNumber,
		&p.AvatarUrl,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgTchatRepository) UpdateProfile(params UpdateProfileParams) (Profile, error) {
	row := db.conn.QueryRow(
		"UPDATE profiles SET name = $2, handle = $3, phone_number = $4, avatar_url = $5, updated_at = $6 "+
			"WHERE id = $1 RETURNING id, name, handle, phone_number, avatar_url, created_at, updated_at",
		params.Id,
		params.Name,
		params.Handle,
		params.PhoneNumber,
		params.AvatarUrl,
		time.Now().UTC(),
	)

	var p Profile
	err := row.Scan(
		&p.Id,
		&p.Name,
		&p.Handle,
		&p.PhoneNumber,
		&p.AvatarUrl,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

// ListProfiles returns the full directory excluding excludeId, so a principal
// never appears in its own contact list.
func (db *PgTchatRepository) ListProfiles(excludeId string) ([]Profile, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.name, p.handle, p.phone_number, p.avatar_url, a.email "+
			"FROM profiles p JOIN accounts a ON p.id = a.id "+
			"WHERE p.id != $1 ORDER BY p.name",
		excludeId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProfiles(rows)
}

func scanProfiles(rows *sql.Rows) ([]Profile, error) {
	var profiles []Profile
	for rows.Next() {
		var p Profile
		err := rows.Scan(
			&p.Id,
			&p.Name,
			&p.Handle,
			&p.PhoneNumber,
			&p.AvatarUrl,
			&p.Email,
		)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

// CreateGroup inserts the group and its creator's membership atomically, so
// the member set is never empty while the group exists.
func (db *PgTchatRepository) CreateGroup(params CreateGroupParams) (Group, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Group{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var g Group
	err = tx.QueryRow(
		"INSERT INTO groups (id, name, created_by, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, name, created_by, created_at",
		params.Id,
		params.Name,
		params.CreatedBy,
		time.Now().UTC(),
	).Scan(
		&g.Id,
		&g.Name,
		&g.CreatedBy,
		&g.CreatedAt,
	)
	if err != nil {
		return Group{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO group_members (group_id, account_id) VALUES ($1, $2)",
		g.Id,
		params.CreatedBy,
	)
	if err != nil {
		return Group{}, fmt.Errorf("add creator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("commit: %w", err)
	}

	g.Members = []string{params.CreatedBy}
	return g, nil
}

func (db *PgTchatRepository) GetGroup(id string) (Group, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, created_by, created_at FROM groups WHERE id = $1 LIMIT 1",
		id,
	)

	var g Group
	err := row.Scan(
		&g.Id,
		&g.Name,
		&g.CreatedBy,
		&g.CreatedAt,
	)
	if err != nil {
		return Group{}, err
	}

	memberRows, err := db.conn.Query(
		"SELECT account_id FROM group_members WHERE group_id = $1 ORDER BY created_at",
		id,
	)
	if err != nil {
		return Group{}, err
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var memberId string
		if err := memberRows.Scan(&memberId); err != nil {
			return Group{}, fmt.Errorf("scan member: %w", err)
		}
		g.Members = append(g.Members, memberId)
	}

	return g, memberRows.Err()
}

func (db *PgTchatRepository) ListGroupsForUser(userId string) ([]Group, error) {
	rows, err := db.conn.Query(
		"SELECT g.id, g.name, g.created_by, g.created_at FROM groups g "+
			"JOIN group_members m ON g.id = m.group_id "+
			"WHERE m.account_id = $1 ORDER BY g.created_at",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		err := rows.Scan(
			&g.Id,
			&g.Name,
			&g.CreatedBy,
			&g.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// DeleteGroup removes the group's message collection together with the group
// record and its memberships. Deletion is transactional: the group is never
// gone while its messages remain, nor the reverse.
func (db *PgTchatRepository) DeleteGroup(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE room_key = $1", id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	res, err := tx.Exec("DELETE FROM groups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

func (db *PgTchatRepository) AddGroupMember(groupId, userId string) error {
	_, err := db.conn.Exec(
		"INSERT INTO group_members (group_id, account_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		groupId,
		userId,
	)
	return err
}

func (db *PgTchatRepository) RemoveGroupMember(groupId, userId string) error {
	_, err := db.conn.Exec(
		"DELETE FROM group_members WHERE group_id = $1 AND account_id = $2",
		groupId,
		userId,
	)
	return err
}

func (db *PgTchatRepository) IsGroupMember(groupId, userId string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND account_id = $2)",
		groupId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgTchatRepository) CountGroupMembers(groupId string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = $1",
		groupId,
	).Scan(&count)

	return count, err
}

func (db *PgTchatRepository) ListGroupMembers(groupId string) ([]Profile, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.name, p.handle, p.phone_number, p.avatar_url, a.email "+
			"FROM profiles p "+
			"JOIN accounts a ON p.id = a.id "+
			"JOIN group_members m ON p.id = m.account_id "+
			"WHERE m.group_id = $1 ORDER BY p.name",
		groupId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// ListGroupNonMembers returns the directory minus the group's member set,
// the candidate list for the add-user screen.
func (db *PgTchatRepository) ListGroupNonMembers(groupId string) ([]Profile, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.name, p.handle, p.phone_number, p.avatar_url, a.email "+
			"FROM profiles p "+
			"JOIN accounts a ON p.id = a.id "+
			"WHERE p.id NOT IN (SELECT account_id FROM group_members WHERE group_id = $1) "+
			"ORDER BY p.name",
		groupId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProfiles(rows)
}

func (db *PgTchatRepository) CreateMessage(msg Message) (Message, error) {
	row := db.conn.QueryRow(
		"INSERT INTO messages (id, room_key, sender_id, content_type, text, image_url, latitude, longitude, map_url, display_time, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING seq",
		msg.Id,
		msg.RoomKey,
		msg.SenderId,
		msg.ContentType,
		msg.Text,
		msg.ImageUrl,
		msg.Latitude,
		msg.Longitude,
		msg.MapUrl,
		msg.DisplayTime,
		msg.CreatedAt,
	)

	err := row.Scan(&msg.Seq)
	return msg, err
}

// GetMessages returns messages for a room in insertion order. after and
// before are exclusive seq bounds; zero means unbounded. limit caps the
// result size, zero means no cap.
func (db *PgTchatRepository) GetMessages(roomKey string, after, before int64, limit int) ([]Message, error) {
	query := "SELECT id, seq, room_key, sender_id, content_type, text, image_url, latitude, longitude, map_url, display_time, created_at " +
		"FROM messages WHERE room_key = $1"
	args := []any{roomKey}

	if after > 0 {
		args = append(args, after)
		query += fmt.Sprintf(" AND seq > $%d", len(args))
	}
	if before > 0 {
		args = append(args, before)
		query += fmt.Sprintf(" AND seq < $%d", len(args))
	}

	query += " ORDER BY seq"

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(
			&m.Id,
			&m.Seq,
			&m.RoomKey,
			&m.SenderId,
			&m.ContentType,
			&m.Text,
			&m.ImageUrl,
			&m.Latitude,
			&m.Longitude,
			&m.MapUrl,
			&m.DisplayTime,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
