package mindmap

// PermissionLevel is the access a collaborator holds on a document.
type PermissionLevel string

const (
	LevelView PermissionLevel = "view"
	LevelEdit PermissionLevel = "edit"
)

// Valid reports whether the level is one of the known levels.
func (l PermissionLevel) Valid() bool {
	return l == LevelView || l == LevelEdit
}

// Permission grants a user a level on a document. The permission store owns
// these records; the sync service only reads them.
type Permission struct {
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Level      PermissionLevel `json:"level"`
}

// Access is the ownership view of a document needed to authorize a user.
type Access struct {
	DocumentID  string
	OwnerID     string
	IsPublic    bool
	Permissions []Permission
}

// LevelFor returns the level userID holds on the document. The owner always
// holds edit. The second return is false when the user has no rights at all.
func (a Access) LevelFor(userID string) (PermissionLevel, bool) {
	if userID == "" {
		return "", false
	}
	if a.OwnerID == userID {
		return LevelEdit, true
	}
	var found PermissionLevel
	for _, p := range a.Permissions {
		if p.UserID != userID {
			continue
		}
		if p.Level == LevelEdit {
			return LevelEdit, true
		}
		if p.Level == LevelView {
			found = LevelView
		}
	}
	return found, found != ""
}

// CanEdit reports whether userID is the owner or holds an edit record.
func (a Access) CanEdit(userID string) bool {
	level, ok := a.LevelFor(userID)
	return ok && level == LevelEdit
}

// CanRead reports whether userID may read the document.
func (a Access) CanRead(userID string) bool {
	if a.IsPublic {
		return true
	}
	_, ok := a.LevelFor(userID)
	return ok
}
