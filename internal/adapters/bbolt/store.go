// Package bbolt implements the ports.Storage interface using bbolt (embedded B+ tree).
// Workspaces, folders, chats and message histories each live in their own
// top-level bucket as JSON values keyed by id; the active workspace id lives
// in the "meta" bucket. Writes are transactional: a crash mid-write cannot
// leave a chat pointing at a deleted folder or a folder listing a deleted chat.
package bbolt

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	bolt "go.etcd.io/bbolt"

	"github.com/corey/parley/internal/ports"
)

// Bucket keys
var (
	bucketWorkspaces = []byte("workspaces")
	bucketMeta       = []byte("meta")
	bucketFolders    = []byte("folders")
	bucketChats      = []byte("chats")
	bucketMessages   = []byte("messages")
	keyActive        = []byte("active_workspace_id")

	allBuckets = [][]byte{bucketWorkspaces, bucketMeta, bucketFolders, bucketChats, bucketMessages}
)

// Store implements ports.Storage backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ ports.Storage = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "bbolt open")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Workspaces
// ============================================================================

// LoadWorkspaces returns every workspace, oldest first, and the active id.
func (s *Store) LoadWorkspaces() (*ports.WorkspaceIndex, error) {
	idx := &ports.WorkspaceIndex{Workspaces: []ports.Workspace{}}
	err := s.db.View(func(tx *bolt.Tx) error {
		list, err := workspacesTx(tx)
		if err != nil {
			return err
		}
		idx.Workspaces = list
		if v := tx.Bucket(bucketMeta).Get(keyActive); v != nil {
			idx.ActiveWorkspaceID = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load workspaces")
	}
	return idx, nil
}

// PutWorkspace inserts or replaces a workspace.
func (s *Store) PutWorkspace(ws ports.Workspace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketWorkspaces), ws.ID, ws)
	})
}

// SetActiveWorkspace records the active workspace id.
func (s *Store) SetActiveWorkspace(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketWorkspaces).Get([]byte(id)) == nil {
			return errors.Wrapf(ports.ErrNotFound, "workspace %s", id)
		}
		return tx.Bucket(bucketMeta).Put(keyActive, []byte(id))
	})
}

// DeleteWorkspace removes a workspace with its folders, chats and messages.
func (s *Store) DeleteWorkspace(id string) (string, error) {
	var active string
	err := s.db.Update(func(tx *bolt.Tx) error {
		list, err := workspacesTx(tx)
		if err != nil {
			return err
		}
		found := false
		var remaining []ports.Workspace
		for _, ws := range list {
			if ws.ID == id {
				found = true
				continue
			}
			remaining = append(remaining, ws)
		}
		if !found {
			return errors.Wrapf(ports.ErrNotFound, "workspace %s", id)
		}
		if len(remaining) == 0 {
			return ports.ErrLastWorkspace
		}

		folders, err := foldersTx(tx, id)
		if err != nil {
			return err
		}
		for _, f := range folders {
			if err := tx.Bucket(bucketFolders).Delete([]byte(f.ID)); err != nil {
				return err
			}
		}
		chats, err := chatsTx(tx, id)
		if err != nil {
			return err
		}
		for _, c := range chats {
			if err := tx.Bucket(bucketChats).Delete([]byte(c.ID)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketMessages).Delete([]byte(c.ID)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketWorkspaces).Delete([]byte(id)); err != nil {
			return err
		}

		meta := tx.Bucket(bucketMeta)
		active = string(meta.Get(keyActive))
		if active == id || active == "" {
			active = remaining[0].ID
			return meta.Put(keyActive, []byte(active))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return active, nil
}

// ============================================================================
// Folders
// ============================================================================

// Folders returns the folders of a workspace, oldest first.
func (s *Store) Folders(workspaceID string) ([]ports.Folder, error) {
	var out []ports.Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = foldersTx(tx, workspaceID)
		return err
	})
	return out, err
}

// GetFolder returns ErrNotFound if the folder does not exist.
func (s *Store) GetFolder(id string) (*ports.Folder, error) {
	var f ports.Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketFolders), id, &f)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "folder %s", id)
	}
	return &f, nil
}

// PutFolder inserts or replaces a folder.
func (s *Store) PutFolder(f ports.Folder) error {
	if f.ChatIDs == nil {
		f.ChatIDs = []string{}
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFolders), f.ID, f)
	})
}

// DeleteFolder removes a folder. Its chats are kept with FolderID cleared.
func (s *Store) DeleteFolder(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		fb := tx.Bucket(bucketFolders)
		var f ports.Folder
		if err := getJSON(fb, id, &f); err != nil {
			return errors.Wrapf(err, "folder %s", id)
		}
		chats, err := chatsTx(tx, f.WorkspaceID)
		if err != nil {
			return err
		}
		cb := tx.Bucket(bucketChats)
		for _, c := range chats {
			if c.FolderID != id {
				continue
			}
			c.FolderID = ""
			if err := putJSON(cb, c.ID, c); err != nil {
				return err
			}
		}
		return fb.Delete([]byte(id))
	})
}

// SetChatFolder moves a chat into folderID, or out of any folder when
// folderID is empty. Both folders' membership lists are updated in the same
// transaction.
func (s *Store) SetChatFolder(chatID, folderID, now string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketChats)
		fb := tx.Bucket(bucketFolders)

		var c ports.ChatMeta
		if err := getJSON(cb, chatID, &c); err != nil {
			return errors.Wrapf(err, "chat %s", chatID)
		}

		var target ports.Folder
		if folderID != "" {
			if err := getJSON(fb, folderID, &target); err != nil {
				return errors.Wrapf(err, "folder %s", folderID)
			}
			if target.WorkspaceID != c.WorkspaceID {
				return errors.New("folder and chat belong to different workspaces")
			}
		}

		if c.FolderID != "" && c.FolderID != folderID {
			var prev ports.Folder
			switch err := getJSON(fb, c.FolderID, &prev); {
			case err == nil:
				prev.ChatIDs = withoutID(prev.ChatIDs, chatID)
				prev.LastUpdatedAt = now
				if err := putJSON(fb, prev.ID, prev); err != nil {
					return err
				}
			case !errors.Is(err, ports.ErrNotFound):
				return err
			}
		}

		if folderID != "" {
			if !strset.New(target.ChatIDs...).Has(chatID) {
				target.ChatIDs = append(target.ChatIDs, chatID)
				target.LastUpdatedAt = now
				if err := putJSON(fb, target.ID, target); err != nil {
					return err
				}
			}
		}

		c.FolderID = folderID
		c.LastUpdatedAt = now
		return putJSON(cb, c.ID, c)
	})
}

// ============================================================================
// Chats and messages
// ============================================================================

// Chats returns the chats of a workspace, newest first.
func (s *Store) Chats(workspaceID string) ([]ports.ChatMeta, error) {
	var out []ports.ChatMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = chatsTx(tx, workspaceID)
		return err
	})
	return out, err
}

// GetChat returns ErrNotFound if the chat does not exist.
func (s *Store) GetChat(id string) (*ports.ChatMeta, error) {
	var c ports.ChatMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketChats), id, &c)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "chat %s", id)
	}
	return &c, nil
}

// PutChat inserts or replaces a chat's metadata.
func (s *Store) PutChat(c ports.ChatMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketChats), c.ID, c)
	})
}

// DeleteChat removes a chat, its messages and its folder membership.
func (s *Store) DeleteChat(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketChats)
		var c ports.ChatMeta
		switch err := getJSON(cb, id, &c); {
		case errors.Is(err, ports.ErrNotFound):
			return nil
		case err != nil:
			return err
		}

		if c.FolderID != "" {
			fb := tx.Bucket(bucketFolders)
			var f ports.Folder
			if err := getJSON(fb, c.FolderID, &f); err == nil {
				f.ChatIDs = withoutID(f.ChatIDs, id)
				if err := putJSON(fb, f.ID, f); err != nil {
					return err
				}
			}
		}
		if err := tx.Bucket(bucketMessages).Delete([]byte(id)); err != nil {
			return err
		}
		return cb.Delete([]byte(id))
	})
}

// Messages returns a chat's full history.
func (s *Store) Messages(chatID string) ([]ports.ChatMessage, error) {
	out := []ports.ChatMessage{}
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChats).Get([]byte(chatID)) == nil {
			return errors.Wrapf(ports.ErrNotFound, "chat %s", chatID)
		}
		err := getJSON(tx.Bucket(bucketMessages), chatID, &out)
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessages appends to a chat's history.
func (s *Store) AppendMessages(chatID string, msgs ...ports.ChatMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChats).Get([]byte(chatID)) == nil {
			return errors.Wrapf(ports.ErrNotFound, "chat %s", chatID)
		}
		mb := tx.Bucket(bucketMessages)
		var history []ports.ChatMessage
		if err := getJSON(mb, chatID, &history); err != nil && !errors.Is(err, ports.ErrNotFound) {
			return err
		}
		return putJSON(mb, chatID, append(history, msgs...))
	})
}

// ============================================================================
// Helpers
// ============================================================================

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return b.Put([]byte(key), data)
}

// getJSON decodes the value at key. json.Unmarshal copies what it needs, so
// the transaction-scoped slice never escapes.
func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return ports.ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "unmarshal %s", key)
	}
	return nil
}

func workspacesTx(tx *bolt.Tx) ([]ports.Workspace, error) {
	out := []ports.Workspace{}
	err := tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
		var ws ports.Workspace
		if err := json.Unmarshal(v, &ws); err != nil {
			return errors.Wrapf(err, "unmarshal workspace %s", k)
		}
		out = append(out, ws)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func foldersTx(tx *bolt.Tx, workspaceID string) ([]ports.Folder, error) {
	out := []ports.Folder{}
	err := tx.Bucket(bucketFolders).ForEach(func(k, v []byte) error {
		var f ports.Folder
		if err := json.Unmarshal(v, &f); err != nil {
			return errors.Wrapf(err, "unmarshal folder %s", k)
		}
		if f.WorkspaceID == workspaceID {
			out = append(out, f)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// chatsTx returns chats newest first. An empty workspaceID matches all.
func chatsTx(tx *bolt.Tx, workspaceID string) ([]ports.ChatMeta, error) {
	out := []ports.ChatMeta{}
	err := tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
		var c ports.ChatMeta
		if err := json.Unmarshal(v, &c); err != nil {
			return errors.Wrapf(err, "unmarshal chat %s", k)
		}
		if workspaceID == "" || c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastUpdatedAt != out[j].LastUpdatedAt {
			return out[i].LastUpdatedAt > out[j].LastUpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
