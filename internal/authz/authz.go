// Package authz decides whether an actor may perform a guarded operation.
package authz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

type Capability string

const (
	OpenRegister       Capability = "open_register"
	CloseRegister      Capability = "close_register"
	ApproveDiscrepancy Capability = "approve_discrepancy"
	CreateTransaction  Capability = "create_transaction"
	EditTransaction    Capability = "edit_transaction"
	Lock               Capability = "lock"
	Unlock             Capability = "unlock"
	Verify             Capability = "verify"
	Unverify           Capability = "unverify"
	Secure             Capability = "secure"
	DeleteTransaction  Capability = "delete_transaction"
	ViewAudit          Capability = "view_audit"
)

// Capabilities lists every capability known to the gate.
var Capabilities = []Capability{
	OpenRegister, CloseRegister, ApproveDiscrepancy,
	CreateTransaction, EditTransaction,
	Lock, Unlock, Verify, Unverify, Secure,
	DeleteTransaction, ViewAudit,
}

func (c Capability) Valid() bool {
	for _, known := range Capabilities {
		if known == c {
			return true
		}
	}
	return false
}

// Gate is consulted before every guarded transition.
type Gate interface {
	HasPermission(actor domain.Actor, capability Capability) bool
}

// Table grants capabilities per role. Roles absent from the table get nothing.
type Table map[domain.Role]map[Capability]bool

func (t Table) HasPermission(actor domain.Actor, capability Capability) bool {
	if strings.TrimSpace(actor.Username) == "" {
		return false
	}
	return t[actor.Role][capability]
}

// Grants returns the sorted capabilities held by role.
func (t Table) Grants(role domain.Role) []Capability {
	out := make([]Capability, 0, len(t[role]))
	for c, ok := range t[role] {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func grant(caps ...Capability) map[Capability]bool {
	m := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return m
}

// DefaultTable is the role matrix used when no override is configured.
func DefaultTable() Table {
	return Table{
		domain.RoleCashier: grant(OpenRegister, CloseRegister, CreateTransaction, EditTransaction, Lock),
		domain.RoleAuditor: grant(Lock, Unlock, Verify, Unverify, ViewAudit),
		domain.RoleManager: grant(OpenRegister, CloseRegister, ApproveDiscrepancy, CreateTransaction,
			EditTransaction, Lock, Unlock, Verify, Unverify, Secure, DeleteTransaction, ViewAudit),
		domain.RoleAdmin: grant(Capabilities...),
	}
}

// FromConfig builds a table from role -> capability names. Unknown
// capability names are rejected rather than ignored.
func FromConfig(raw map[string][]string) (Table, error) {
	table := make(Table, len(raw))
	for role, names := range raw {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			return nil, fmt.Errorf("permissions: empty role name")
		}
		caps := make([]Capability, 0, len(names))
		for _, name := range names {
			c := Capability(strings.ToLower(strings.TrimSpace(name)))
			if !c.Valid() {
				return nil, fmt.Errorf("permissions: role %s: unknown capability %q", role, name)
			}
			caps = append(caps, c)
		}
		table[domain.Role(role)] = grant(caps...)
	}
	return table, nil
}
