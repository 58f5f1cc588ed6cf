package model

// Role はギフトに対する権限レベルを表す。
// Owner, Editor, Viewer, None の閉じた列挙であり、それ以外の値は存在しない。
type Role string

const (
	// RoleOwner はギフトの所有者。招待・削除・編集のすべてが可能。
	RoleOwner Role = "owner"
	// RoleEditor はメタデータを編集できる共同編集者。
	RoleEditor Role = "editor"
	// RoleViewer は閲覧のみ可能な参加者。
	RoleViewer Role = "viewer"
	// RoleNone はギフトに対する権限を持たない。
	RoleNone Role = "none"
)

// IsInvitable は招待で付与可能なロールかどうかを返す。
// 招待で付与できるのは editor と viewer のみ。
func (r Role) IsInvitable() bool {
	return r == RoleEditor || r == RoleViewer
}
