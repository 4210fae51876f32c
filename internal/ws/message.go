package ws

import (
	"github.com/coedit/server/internal/ot"
	"github.com/coedit/server/internal/session"
)

// Event names exchanged with clients.
const (
	MsgJoin   = "join_session"
	MsgEdit   = "edit_op"
	MsgCursor = "cursor_update"

	MsgJoined     = "session_joined"
	MsgBroadcast  = "broadcast_op"
	MsgUserCursor = "user_cursor"
	MsgError      = "error"
)

// clientMessage is the envelope clients send. Fields are populated
// depending on Type.
type clientMessage struct {
	Type        string          `json:"type"`
	BaseVersion int             `json:"baseVersion"`
	Ops         []ot.Op         `json:"ops"`
	Cursor      *session.Cursor `json:"cursor"`
}

type joinedMessage struct {
	Type    string                    `json:"type"`
	DocID   string                    `json:"docId"`
	Version int                       `json:"version"`
	Content string                    `json:"content"`
	Cursors map[string]session.Cursor `json:"cursors"`
}

// opMessage carries a committed edit: the post-application version and
// the rebased operations every participant must apply.
type opMessage struct {
	Type    string  `json:"type"`
	DocID   string  `json:"docId"`
	Version int     `json:"version"`
	Content string  `json:"content"`
	Ops     []ot.Op `json:"ops"`
	UserID  string  `json:"userId"`
}

type cursorMessage struct {
	Type   string         `json:"type"`
	DocID  string         `json:"docId"`
	UserID string         `json:"userId"`
	Cursor session.Cursor `json:"cursor"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Role levels granted at connect time. Editing requires at least
// editor.
var roleOrder = map[string]int{
	"viewer":    1,
	"commenter": 2,
	"editor":    3,
	"owner":     4,
}

func hasRequiredRole(role, required string) bool {
	return roleOrder[role] >= roleOrder[required]
}
