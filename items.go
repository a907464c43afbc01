package vault

import (
	"encoding/base64"
	"time"

	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

const (
	itemsCollection  = "vault_items"
	grantsCollection = "share_grants"
)

// Permission is one capability granted on a shared item.
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionDelete  Permission = "delete"
	PermissionReshare Permission = "reshare"
)

// validPermissions is the closed set accepted by ShareVaultItem.
var validPermissions = map[Permission]struct{}{
	PermissionRead:    {},
	PermissionWrite:   {},
	PermissionDelete:  {},
	PermissionReshare: {},
}

// VaultItem is the stored record of one encrypted file. Name is kept only in
// the encrypted metadata blob inside the object; the record carries the
// encrypted name copy so listings can decrypt lazily without fetching the
// whole object.
type VaultItem struct {
	ID            string
	OwnerID       string
	FileID        string
	Name          string // plaintext only in memory, never persisted
	EncryptedName []byte
	MimeType      string
	Size          int64 // plaintext size, used for quota accounting
	StoredSize    int64 // ciphertext size actually held in object storage
	ObjectPath    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Deleted       bool
	DeletedAt     time.Time
}

// ShareGrant records one sharing decision. A grant with a WrappedFileKey is a
// password link: the file key travels PBKDF2-wrapped under the link password
// instead of being re-encrypted per recipient.
type ShareGrant struct {
	ID             string
	ItemID         string
	OwnerID        string
	Recipients     []string
	Permissions    []Permission
	WrappedFileKey []byte
	ExpiresAt      time.Time
	Revoked        bool
	RevokedAt      time.Time
	CreatedAt      time.Time
}

// Active reports whether the grant currently authorizes access.
func (g ShareGrant) Active(now time.Time) bool {
	if g.Revoked {
		return false
	}
	if !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt) {
		return false
	}
	return true
}

// HasPermission reports whether the grant includes the given capability.
func (g ShareGrant) HasPermission(p Permission) bool {
	for _, have := range g.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// ItemQuery narrows SearchVault results. Zero values mean "any".
type ItemQuery struct {
	NameContains   string
	MimeType       string
	IncludeDeleted bool
	Limit          int
}

func itemToDocument(item VaultItem) persist.Document {
	doc := persist.Document{
		"id":          item.ID,
		"owner_id":    item.OwnerID,
		"file_id":     item.FileID,
		"mime_type":   item.MimeType,
		"size":        item.Size,
		"stored_size": item.StoredSize,
		"object_path": item.ObjectPath,
		"created_at":  item.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  item.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"deleted":     item.Deleted,
	}
	if len(item.EncryptedName) > 0 {
		doc["encrypted_name"] = base64.StdEncoding.EncodeToString(item.EncryptedName)
	}
	if item.Deleted && !item.DeletedAt.IsZero() {
		doc["deleted_at"] = item.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func itemFromDocument(doc persist.Document) VaultItem {
	item := VaultItem{
		ID:            docStr(doc, "id"),
		OwnerID:       docStr(doc, "owner_id"),
		FileID:        docStr(doc, "file_id"),
		EncryptedName: docB64(doc, "encrypted_name"),
		MimeType:      docStr(doc, "mime_type"),
		Size:          docInt64(doc, "size"),
		StoredSize:    docInt64(doc, "stored_size"),
		ObjectPath:    docStr(doc, "object_path"),
	}
	if b, ok := doc["deleted"].(bool); ok {
		item.Deleted = b
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "created_at")); err == nil {
		item.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "updated_at")); err == nil {
		item.UpdatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "deleted_at")); err == nil {
		item.DeletedAt = ts
	}
	return item
}

func grantToDocument(g ShareGrant) persist.Document {
	perms := make([]interface{}, len(g.Permissions))
	for i, p := range g.Permissions {
		perms[i] = string(p)
	}
	recipients := make([]interface{}, len(g.Recipients))
	for i, r := range g.Recipients {
		recipients[i] = r
	}
	doc := persist.Document{
		"id":          g.ID,
		"item_id":     g.ItemID,
		"owner_id":    g.OwnerID,
		"recipients":  recipients,
		"permissions": perms,
		"revoked":     g.Revoked,
		"created_at":  g.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(g.WrappedFileKey) > 0 {
		doc["wrapped_file_key"] = base64.StdEncoding.EncodeToString(g.WrappedFileKey)
	}
	if !g.ExpiresAt.IsZero() {
		doc["expires_at"] = g.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if g.Revoked && !g.RevokedAt.IsZero() {
		doc["revoked_at"] = g.RevokedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func grantFromDocument(doc persist.Document) ShareGrant {
	g := ShareGrant{
		ID:             docStr(doc, "id"),
		ItemID:         docStr(doc, "item_id"),
		OwnerID:        docStr(doc, "owner_id"),
		WrappedFileKey: docB64(doc, "wrapped_file_key"),
	}
	if list, ok := doc["recipients"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				g.Recipients = append(g.Recipients, s)
			}
		}
	}
	if list, ok := doc["permissions"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				g.Permissions = append(g.Permissions, Permission(s))
			}
		}
	}
	if b, ok := doc["revoked"].(bool); ok {
		g.Revoked = b
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "expires_at")); err == nil {
		g.ExpiresAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "revoked_at")); err == nil {
		g.RevokedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "created_at")); err == nil {
		g.CreatedAt = ts
	}
	return g
}

func docInt64(doc persist.Document, key string) int64 {
	switch v := doc[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
