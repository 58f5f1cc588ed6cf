// Package permission はロールから操作権限（ケイパビリティ）を導出する。
package permission

import (
	"context"

	"github.com/hitoshi/giftshare/internal/model"
)

// Capability はギフトに対する個別の操作権限。
type Capability string

const (
	CapabilityView   Capability = "view"
	CapabilityEdit   Capability = "edit"
	CapabilityInvite Capability = "invite"
	CapabilityDelete Capability = "delete"
)

// Capabilities はアドレスがギフトに対して持つ権限の集合。
type Capabilities struct {
	CanView   bool `json:"can_view"`
	CanEdit   bool `json:"can_edit"`
	CanInvite bool `json:"can_invite"`
	CanDelete bool `json:"can_delete"`
}

// Has は指定した権限を持つかどうかを返す。
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityView:
		return c.CanView
	case CapabilityEdit:
		return c.CanEdit
	case CapabilityInvite:
		return c.CanInvite
	case CapabilityDelete:
		return c.CanDelete
	}
	return false
}

// ForRole はロールから権限を導出する。
// Owner は全権限、Editor は閲覧と編集、Viewer は閲覧のみ、None は何も持たない。
func ForRole(role model.Role) Capabilities {
	return Capabilities{
		CanView:   role == model.RoleOwner || role == model.RoleEditor || role == model.RoleViewer,
		CanEdit:   role == model.RoleOwner || role == model.RoleEditor,
		CanInvite: role == model.RoleOwner,
		CanDelete: role == model.RoleOwner,
	}
}

// RoleResolver はアドレスの実効ロールを解決するインターフェース。
type RoleResolver interface {
	ResolveRole(ctx context.Context, address model.Address, giftID string) (model.Role, error)
}

// Gate はロール解決の結果から権限を判定する。
// 独自の状態を持たないため、ロール解決と判定結果が食い違うことはない。
type Gate struct {
	roles RoleResolver
}

// NewGate はGateを生成する。
func NewGate(roles RoleResolver) *Gate {
	return &Gate{roles: roles}
}

// CapabilitiesFor はアドレスのギフトに対する権限と、その元になったロールを返す。
// ロール解決に失敗した場合は権限なし（ゼロ値）とエラーを返す。
func (g *Gate) CapabilitiesFor(ctx context.Context, address model.Address, giftID string) (Capabilities, model.Role, error) {
	role, err := g.roles.ResolveRole(ctx, address, giftID)
	if err != nil {
		return Capabilities{}, model.RoleNone, err
	}
	return ForRole(role), role, nil
}

// Require はアドレスが指定権限を持つことを確認する。
// 持たない場合は不足している権限を示すUNAUTHORIZEDエラーを、
// ロール解決に失敗した場合はそのエラーを返す。
func (g *Gate) Require(ctx context.Context, address model.Address, giftID string, capability Capability) error {
	caps, role, err := g.CapabilitiesFor(ctx, address, giftID)
	if err != nil {
		return err
	}
	if !caps.Has(capability) {
		return model.NewUnauthorizedError(string(capability) + " 権限がありません（現在のロール: " + string(role) + "）")
	}
	return nil
}
