package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	icrypto "github.com/ruchit-p/DynastyMobile-sub004/internal/crypto"
	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
	"github.com/ruchit-p/DynastyMobile-sub004/offline"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

const aadItemName = "dynasty/item-name/v1"

// UploadSecureFile encrypts plaintext client-side and stores the sealed
// artifact. The quota is checked before any record is created: an upload that
// would exceed it fails with ErrInsufficientStorage and leaves no trace.
func (v *Vault) UploadSecureFile(ctx context.Context, name, mimeType string, plaintext []byte, progress ProgressFunc) (*VaultItem, error) {
	if name == "" {
		return nil, errors.New("file name cannot be empty")
	}

	used, limit, err := v.GetStorageQuota(ctx)
	if err != nil {
		return nil, err
	}
	if used+int64(len(plaintext)) > limit {
		return nil, fmt.Errorf("%w: %d of %d bytes used, upload needs %d more",
			ErrInsufficientStorage, used, limit, int64(len(plaintext)))
	}

	var item *VaultItem
	err = v.keys.WithMasterKey(func(master []byte) error {
		sealed, err := v.engine.EncryptFile(master, plaintext, FileMetadata{
			Name:     name,
			MimeType: mimeType,
		}, progress)
		if err != nil {
			return err
		}

		blob, err := MarshalEncryptedFile(sealed)
		if err != nil {
			return fmt.Errorf("failed to frame encrypted file: %w", err)
		}

		fileKey, err := icrypto.DeriveFileKey(master, sealed.Header.FileID)
		if err != nil {
			return fmt.Errorf("failed to derive file key: %w", err)
		}
		defer memguard.WipeBytes(fileKey)

		encName, err := icrypto.EncryptValue([]byte(name), fileKey, []byte(aadItemName))
		if err != nil {
			return fmt.Errorf("failed to encrypt item name: %w", err)
		}

		now := time.Now().UTC()
		candidate := VaultItem{
			ID:            uuid.NewString(),
			OwnerID:       v.options.UserID,
			FileID:        sealed.Header.FileID,
			Name:          name,
			EncryptedName: encName,
			MimeType:      mimeType,
			Size:          int64(len(plaintext)),
			StoredSize:    int64(len(blob)),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		candidate.ObjectPath = objectPath(v.options.UserID, candidate.ID)

		if _, err = v.store.PutObject(ctx, candidate.ObjectPath, blob, "application/octet-stream", nil); err != nil {
			if qErr := v.enqueue("put_object", map[string]interface{}{
				"path": candidate.ObjectPath,
				"data": base64.StdEncoding.EncodeToString(blob),
			}); qErr != nil {
				return storageErr("put", candidate.ObjectPath, err)
			}
		}

		if err = v.store.PutDocument(ctx, itemsCollection, candidate.ID, itemToDocument(candidate)); err != nil {
			if qErr := v.enqueue("put_document", map[string]interface{}{
				"collection": itemsCollection,
				"id":         candidate.ID,
				"fields":     map[string]interface{}(itemToDocument(candidate)),
			}); qErr != nil {
				return storageErr("put", itemsCollection+"/"+candidate.ID, err)
			}
		}

		item = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.audit(ctx, "upload", item.ID, map[string]interface{}{"size": item.Size, "mime_type": item.MimeType})
	return item, nil
}

// DownloadFile fetches and decrypts an item. Any tampering with the stored
// ciphertext or its sealed metadata surfaces as ErrIntegrity and is recorded
// as a security incident.
func (v *Vault) DownloadFile(ctx context.Context, itemID string, progress ProgressFunc) ([]byte, FileMetadata, error) {
	item, err := v.getItem(ctx, itemID)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	blob, err := v.store.GetObject(ctx, item.ObjectPath)
	if err != nil {
		return nil, FileMetadata{}, storageErr("get", item.ObjectPath, err)
	}

	sealed, err := UnmarshalEncryptedFile(blob)
	if err != nil {
		v.reportIntegrity(ctx, item.ID, "malformed stored object")
		return nil, FileMetadata{}, err
	}

	var plaintext []byte
	var meta FileMetadata
	err = v.keys.WithMasterKey(func(master []byte) error {
		var err error
		plaintext, meta, err = v.engine.DecryptFile(master, sealed, progress)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			v.reportIntegrity(ctx, item.ID, err.Error())
		}
		return nil, FileMetadata{}, err
	}

	v.audit(ctx, "download", item.ID, map[string]interface{}{"size": meta.Size})
	return plaintext, meta, nil
}

// SearchVault lists the caller's items. Owner and deletion filters run
// server-side; name matching decrypts each record's name client-side, since
// the backend only ever sees ciphertext.
func (v *Vault) SearchVault(ctx context.Context, query ItemQuery) ([]VaultItem, error) {
	filters := []persist.Filter{{Field: "owner_id", Op: "==", Value: v.options.UserID}}
	if !query.IncludeDeleted {
		filters = append(filters, persist.Filter{Field: "deleted", Op: "==", Value: false})
	}
	if query.MimeType != "" {
		filters = append(filters, persist.Filter{Field: "mime_type", Op: "==", Value: query.MimeType})
	}

	docs, err := v.store.QueryDocuments(ctx, itemsCollection, persist.Query{
		Filters:    filters,
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		return nil, storageErr("query", itemsCollection, err)
	}

	var out []VaultItem
	err = v.keys.WithMasterKey(func(master []byte) error {
		needle := strings.ToLower(query.NameContains)
		for _, doc := range docs {
			item := itemFromDocument(doc)
			if name, err := v.decryptName(master, item); err == nil {
				item.Name = name
			}
			if needle != "" && !strings.Contains(strings.ToLower(item.Name), needle) {
				continue
			}
			out = append(out, item)
			if query.Limit > 0 && len(out) >= query.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenameItem re-encrypts the listing name on the item record. The sealed
// metadata inside the stored object keeps the upload-time name; it is bound
// into the ciphertext AAD and cannot change without re-encrypting the file.
func (v *Vault) RenameItem(ctx context.Context, itemID, newName string) error {
	if newName == "" {
		return errors.New("file name cannot be empty")
	}
	item, err := v.getItem(ctx, itemID)
	if err != nil {
		return err
	}

	err = v.keys.WithMasterKey(func(master []byte) error {
		fileKey, err := icrypto.DeriveFileKey(master, item.FileID)
		if err != nil {
			return err
		}
		defer memguard.WipeBytes(fileKey)

		encName, err := icrypto.EncryptValue([]byte(newName), fileKey, []byte(aadItemName))
		if err != nil {
			return err
		}
		item.EncryptedName = encName
		item.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	if err = v.store.PutDocument(ctx, itemsCollection, item.ID, itemToDocument(item)); err != nil {
		return storageErr("put", itemsCollection+"/"+item.ID, err)
	}
	v.audit(ctx, "rename", item.ID, nil)
	return nil
}

// DeleteItem marks the item as a tombstone. The ciphertext object stays in
// place until PurgeTombstones so accidental deletions are recoverable; active
// share grants on the item are revoked immediately.
func (v *Vault) DeleteItem(ctx context.Context, itemID string) error {
	item, err := v.getItem(ctx, itemID)
	if err != nil {
		return err
	}

	item.Deleted = true
	item.DeletedAt = time.Now().UTC()
	item.UpdatedAt = item.DeletedAt
	if err = v.store.PutDocument(ctx, itemsCollection, item.ID, itemToDocument(item)); err != nil {
		return storageErr("put", itemsCollection+"/"+item.ID, err)
	}

	grants, err := v.grantsForItem(ctx, item.ID)
	if err == nil {
		for _, g := range grants {
			if g.Revoked {
				continue
			}
			g.Revoked = true
			g.RevokedAt = item.DeletedAt
			if err := v.store.PutDocument(ctx, grantsCollection, g.ID, grantToDocument(g)); err != nil {
				return storageErr("put", grantsCollection+"/"+g.ID, err)
			}
		}
	}

	v.audit(ctx, "delete", item.ID, nil)
	return nil
}

// PurgeTombstones permanently removes items deleted longer than olderThan
// ago: the ciphertext object, the item record, and its grants. Returns the
// number of items purged.
func (v *Vault) PurgeTombstones(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	docs, err := v.store.QueryDocuments(ctx, itemsCollection, persist.Query{
		Filters: []persist.Filter{
			{Field: "owner_id", Op: "==", Value: v.options.UserID},
			{Field: "deleted", Op: "==", Value: true},
			{Field: "deleted_at", Op: "<=", Value: cutoff},
		},
	})
	if err != nil {
		return 0, storageErr("query", itemsCollection, err)
	}

	purged := 0
	for _, doc := range docs {
		item := itemFromDocument(doc)
		if err := v.store.DeleteObject(ctx, item.ObjectPath); err != nil && !isNotFound(err) {
			return purged, storageErr("delete", item.ObjectPath, err)
		}
		grants, err := v.grantsForItem(ctx, item.ID)
		if err == nil {
			for _, g := range grants {
				if err := v.store.DeleteDocument(ctx, grantsCollection, g.ID); err != nil && !isNotFound(err) {
					return purged, storageErr("delete", grantsCollection+"/"+g.ID, err)
				}
			}
		}
		if err := v.store.DeleteDocument(ctx, itemsCollection, item.ID); err != nil && !isNotFound(err) {
			return purged, storageErr("delete", itemsCollection+"/"+item.ID, err)
		}
		purged++
		v.audit(ctx, "purge", item.ID, nil)
	}
	return purged, nil
}

// ShareVaultItem grants recipients access to an item. When linkPassword is
// set the item's file key is PBKDF2-wrapped under it, producing a grant that
// can be redeemed without the owner's vault. A zero expiresAt means the grant
// does not expire.
func (v *Vault) ShareVaultItem(ctx context.Context, itemID string, recipients []string, permissions []Permission, linkPassword string, expiresAt time.Time) (*ShareGrant, error) {
	if len(permissions) == 0 {
		return nil, fmt.Errorf("%w: grant needs at least one permission", ErrInvalidPermission)
	}
	for _, p := range permissions {
		if _, ok := validPermissions[p]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, p)
		}
	}
	if len(recipients) == 0 && linkPassword == "" {
		return nil, errors.New("grant needs recipients or a link password")
	}

	item, err := v.getItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	grant := ShareGrant{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		OwnerID:     v.options.UserID,
		Recipients:  append([]string(nil), recipients...),
		Permissions: append([]Permission(nil), permissions...),
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	if linkPassword != "" {
		err = v.keys.WithMasterKey(func(master []byte) error {
			fileKey, err := icrypto.DeriveFileKey(master, item.FileID)
			if err != nil {
				return err
			}
			defer memguard.WipeBytes(fileKey)

			wrapped, err := icrypto.EncryptWithPassphrase(fileKey, linkPassword)
			if err != nil {
				return fmt.Errorf("failed to wrap file key for link: %w", err)
			}
			grant.WrappedFileKey = wrapped
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if err = v.store.PutDocument(ctx, grantsCollection, grant.ID, grantToDocument(grant)); err != nil {
		return nil, storageErr("put", grantsCollection+"/"+grant.ID, err)
	}

	v.audit(ctx, "share", item.ID, map[string]interface{}{
		"grant_id":   grant.ID,
		"recipients": len(grant.Recipients),
		"link":       linkPassword != "",
	})
	return &grant, nil
}

// RevokeShare marks a grant revoked. Revocation is permanent; share again to
// restore access.
func (v *Vault) RevokeShare(ctx context.Context, grantID string) error {
	doc, err := v.store.GetDocument(ctx, grantsCollection, grantID)
	if err != nil {
		if errors.Is(err, persist.ErrDocumentNotFound) {
			return ErrGrantNotFound
		}
		return storageErr("get", grantsCollection+"/"+grantID, err)
	}
	grant := grantFromDocument(doc)
	if grant.OwnerID != v.options.UserID {
		return ErrGrantNotFound
	}
	if grant.Revoked {
		return nil
	}

	grant.Revoked = true
	grant.RevokedAt = time.Now().UTC()
	if err = v.store.PutDocument(ctx, grantsCollection, grant.ID, grantToDocument(grant)); err != nil {
		return storageErr("put", grantsCollection+"/"+grant.ID, err)
	}

	v.audit(ctx, "revoke_share", grant.ItemID, map[string]interface{}{"grant_id": grant.ID})
	return nil
}

// RedeemShare opens a password-link grant: it verifies the grant is active,
// holds the requested permission, unwraps the file key under the link
// password, and decrypts the item with it. It does not require the vault to
// be unlocked.
func (v *Vault) RedeemShare(ctx context.Context, grantID, linkPassword string, progress ProgressFunc) ([]byte, FileMetadata, error) {
	doc, err := v.store.GetDocument(ctx, grantsCollection, grantID)
	if err != nil {
		if errors.Is(err, persist.ErrDocumentNotFound) {
			return nil, FileMetadata{}, ErrGrantNotFound
		}
		return nil, FileMetadata{}, storageErr("get", grantsCollection+"/"+grantID, err)
	}
	grant := grantFromDocument(doc)
	if !grant.Active(time.Now().UTC()) {
		return nil, FileMetadata{}, ErrShareExpired
	}
	if !grant.HasPermission(PermissionRead) {
		return nil, FileMetadata{}, fmt.Errorf("%w: grant does not allow read", ErrInvalidPermission)
	}
	if len(grant.WrappedFileKey) == 0 {
		return nil, FileMetadata{}, errors.New("grant has no link key")
	}

	fileKey, err := icrypto.DecryptWithPassphrase(grant.WrappedFileKey, linkPassword)
	if err != nil {
		return nil, FileMetadata{}, ErrInvalidSecret
	}
	defer memguard.WipeBytes(fileKey)

	itemDoc, err := v.store.GetDocument(ctx, itemsCollection, grant.ItemID)
	if err != nil {
		return nil, FileMetadata{}, ErrItemNotFound
	}
	item := itemFromDocument(itemDoc)
	if item.Deleted {
		return nil, FileMetadata{}, ErrItemNotFound
	}

	blob, err := v.store.GetObject(ctx, item.ObjectPath)
	if err != nil {
		return nil, FileMetadata{}, storageErr("get", item.ObjectPath, err)
	}
	sealed, err := UnmarshalEncryptedFile(blob)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	plaintext, meta, err := decryptWithFileKey(fileKey, sealed, progress)
	if err != nil {
		return nil, FileMetadata{}, err
	}

	v.audit(ctx, "share_redeem", item.ID, map[string]interface{}{"grant_id": grant.ID})
	return plaintext, meta, nil
}

// GetStorageQuota returns plaintext bytes used by live items and the
// configured limit. Tombstoned items stop counting against the quota.
func (v *Vault) GetStorageQuota(ctx context.Context) (used, limit int64, err error) {
	docs, err := v.store.QueryDocuments(ctx, itemsCollection, persist.Query{
		Filters: []persist.Filter{
			{Field: "owner_id", Op: "==", Value: v.options.UserID},
			{Field: "deleted", Op: "==", Value: false},
		},
	})
	if err != nil {
		return 0, 0, storageErr("query", itemsCollection, err)
	}
	for _, doc := range docs {
		used += docInt64(doc, "size")
	}
	return used, v.options.quotaLimit(), nil
}

// RekeyMasterKey responds to a suspected master key compromise: it generates
// a fresh master key and re-encrypts every live item under it before the new
// key envelope is committed. Failure part-way leaves the old key in force.
func (v *Vault) RekeyMasterKey(ctx context.Context, secret []byte) error {
	return v.keys.Rekey(ctx, secret, func(oldMaster, newMaster []byte) error {
		items, err := v.store.QueryDocuments(ctx, itemsCollection, persist.Query{
			Filters: []persist.Filter{
				{Field: "owner_id", Op: "==", Value: v.options.UserID},
				{Field: "deleted", Op: "==", Value: false},
			},
		})
		if err != nil {
			return storageErr("query", itemsCollection, err)
		}

		for _, doc := range items {
			item := itemFromDocument(doc)
			blob, err := v.store.GetObject(ctx, item.ObjectPath)
			if err != nil {
				return storageErr("get", item.ObjectPath, err)
			}
			sealed, err := UnmarshalEncryptedFile(blob)
			if err != nil {
				return err
			}
			plaintext, meta, err := v.engine.DecryptFile(oldMaster, sealed, nil)
			if err != nil {
				return fmt.Errorf("item %s: %w", item.ID, err)
			}

			resealed, err := v.engine.EncryptFile(newMaster, plaintext, meta, nil)
			Memzero(plaintext)
			if err != nil {
				return fmt.Errorf("item %s: %w", item.ID, err)
			}
			newBlob, err := MarshalEncryptedFile(resealed)
			if err != nil {
				return err
			}
			if _, err = v.store.PutObject(ctx, item.ObjectPath, newBlob, "application/octet-stream", nil); err != nil {
				return storageErr("put", item.ObjectPath, err)
			}

			newKey, err := icrypto.DeriveFileKey(newMaster, resealed.Header.FileID)
			if err != nil {
				return err
			}
			encName, err := icrypto.EncryptValue([]byte(meta.Name), newKey, []byte(aadItemName))
			memguard.WipeBytes(newKey)
			if err != nil {
				return err
			}
			item.FileID = resealed.Header.FileID
			item.EncryptedName = encName
			item.StoredSize = int64(len(newBlob))
			item.UpdatedAt = time.Now().UTC()
			if err = v.store.PutDocument(ctx, itemsCollection, item.ID, itemToDocument(item)); err != nil {
				return storageErr("put", itemsCollection+"/"+item.ID, err)
			}
		}
		return nil
	})
}

// ReplayOfflineQueue re-issues writes buffered while the backend was
// unreachable, oldest first. A failing write stops the replay and stays
// queued.
func (v *Vault) ReplayOfflineQueue(ctx context.Context) error {
	if v.queue == nil {
		return nil
	}
	return v.queue.Drain(func(op offline.Operation) error {
		switch op.Type {
		case "put_object":
			path, _ := op.Data["path"].(string)
			encoded, _ := op.Data["data"].(string)
			blob, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("corrupt queued object payload: %w", err)
			}
			_, err = v.store.PutObject(ctx, path, blob, "application/octet-stream", nil)
			return err
		case "put_document":
			collection, _ := op.Data["collection"].(string)
			id, _ := op.Data["id"].(string)
			fields, _ := op.Data["fields"].(map[string]interface{})
			return v.store.PutDocument(ctx, collection, id, persist.Document(fields))
		default:
			return fmt.Errorf("unknown queued operation %q", op.Type)
		}
	})
}

func (v *Vault) enqueue(opType string, data map[string]interface{}) error {
	if v.queue == nil {
		return errors.New("offline queue unavailable")
	}
	return v.queue.Enqueue(offline.Operation{Type: opType, Data: data})
}

func (v *Vault) getItem(ctx context.Context, itemID string) (VaultItem, error) {
	doc, err := v.store.GetDocument(ctx, itemsCollection, itemID)
	if err != nil {
		if errors.Is(err, persist.ErrDocumentNotFound) {
			return VaultItem{}, ErrItemNotFound
		}
		return VaultItem{}, storageErr("get", itemsCollection+"/"+itemID, err)
	}
	item := itemFromDocument(doc)
	if item.OwnerID != v.options.UserID || item.Deleted {
		return VaultItem{}, ErrItemNotFound
	}
	return item, nil
}

func (v *Vault) grantsForItem(ctx context.Context, itemID string) ([]ShareGrant, error) {
	docs, err := v.store.QueryDocuments(ctx, grantsCollection, persist.Query{
		Filters: []persist.Filter{{Field: "item_id", Op: "==", Value: itemID}},
	})
	if err != nil {
		return nil, storageErr("query", grantsCollection, err)
	}
	grants := make([]ShareGrant, 0, len(docs))
	for _, doc := range docs {
		grants = append(grants, grantFromDocument(doc))
	}
	return grants, nil
}

func (v *Vault) decryptName(master []byte, item VaultItem) (string, error) {
	if len(item.EncryptedName) == 0 {
		return "", errors.New("no encrypted name")
	}
	fileKey, err := icrypto.DeriveFileKey(master, item.FileID)
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(fileKey)

	name, err := icrypto.DecryptValue(item.EncryptedName, fileKey, []byte(aadItemName))
	if err != nil {
		return "", err
	}
	return string(name), nil
}

func (v *Vault) reportIntegrity(ctx context.Context, itemID, detail string) {
	if _, err := v.auditor.LogSecurityIncident(ctx, "vault item failed integrity verification", v.options.UserID,
		map[string]interface{}{"item_id": itemID, "detail": detail}); err != nil {
		log.Printf("vault: failed to audit integrity failure on %s: %v", itemID, err)
	}
}

func objectPath(userID, itemID string) string {
	return "vault/" + userID + "/" + itemID
}

func isNotFound(err error) bool {
	return errors.Is(err, persist.ErrDocumentNotFound) || misc.IsNotFoundError(err)
}
