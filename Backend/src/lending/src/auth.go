package main

import "strings"

type Role string

const (
	RoleAnyone        Role = "anyone"
	RoleStandardUser  Role = "standard_user"
	RoleAdministrator Role = "administrator"
)

// ParseRole is case-insensitive. Anything unrecognised is RoleAnyone, never an error.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStandardUser:
		return RoleStandardUser
	case RoleAdministrator:
		return RoleAdministrator
	}
	return RoleAnyone
}

func (r Role) String() string { return string(r) }

// CallerContext is who is asking. It is built once per request from the
// bearer token and passed by value; it has no setters.
type CallerContext struct {
	userID string
	email  string
	role   Role
}

func NewCallerContext(userID, email string, role Role) CallerContext {
	if userID == "" {
		return Anonymous()
	}
	return CallerContext{userID: userID, email: email, role: role}
}

func Anonymous() CallerContext { return CallerContext{role: RoleAnyone} }

func (c CallerContext) UserID() string { return c.userID }
func (c CallerContext) Email() string  { return c.email }
func (c CallerContext) Role() Role {
	if c.role == "" {
		return RoleAnyone
	}
	return c.role
}

func (c CallerContext) Authenticated() bool { return c.userID != "" && c.Role() != RoleAnyone }
func (c CallerContext) IsAdmin() bool       { return c.Role() == RoleAdministrator }

type Operation int

const (
	OpBrowseCatalog Operation = iota
	OpViewGun
	OpEditCatalog
	OpCreateLending
	OpReadLending
	OpListOwnLendings
	OpListAllLendings
	OpAmendLending
	OpCancelLending
	OpReadUser
	OpEditUser
	OpListUsers
	OpChangeRole
)

var operationNames = map[Operation]string{
	OpBrowseCatalog:   "browse_catalog",
	OpViewGun:         "view_gun",
	OpEditCatalog:     "edit_catalog",
	OpCreateLending:   "create_lending",
	OpReadLending:     "read_lending",
	OpListOwnLendings: "list_own_lendings",
	OpListAllLendings: "list_all_lendings",
	OpAmendLending:    "amend_lending",
	OpCancelLending:   "cancel_lending",
	OpReadUser:        "read_user",
	OpEditUser:        "edit_user",
	OpListUsers:       "list_users",
	OpChangeRole:      "change_role",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

type Decision int

const (
	Denied Decision = iota
	Allowed
)

type access int

const (
	deny access = iota
	allow
	allowOwner // only when the caller owns the resource
)

// policy lists every operation. A role missing from a row is denied.
var policy = map[Operation]map[Role]access{
	OpBrowseCatalog:   {RoleAnyone: allow, RoleStandardUser: allow, RoleAdministrator: allow},
	OpViewGun:         {RoleStandardUser: allow, RoleAdministrator: allow},
	OpEditCatalog:     {RoleAdministrator: allow},
	OpCreateLending:   {RoleStandardUser: allowOwner, RoleAdministrator: allow},
	OpReadLending:     {RoleStandardUser: allow, RoleAdministrator: allow},
	OpListOwnLendings: {RoleStandardUser: allow, RoleAdministrator: allow},
	OpListAllLendings: {RoleAdministrator: allow},
	OpAmendLending:    {RoleStandardUser: allowOwner, RoleAdministrator: allow},
	OpCancelLending:   {RoleStandardUser: allowOwner, RoleAdministrator: allow},
	OpReadUser:        {RoleStandardUser: allowOwner, RoleAdministrator: allow},
	OpEditUser:        {RoleStandardUser: allowOwner, RoleAdministrator: allow},
	OpListUsers:       {RoleAdministrator: allow},
	OpChangeRole:      {RoleAdministrator: allow},
}

// Authorize looks up (op, role) in the policy table; owner-scoped rules also
// need callerID to equal ownerID.
func Authorize(role Role, callerID, ownerID string, op Operation) Decision {
	switch policy[op][role] {
	case allow:
		return Allowed
	case allowOwner:
		if callerID != "" && callerID == ownerID {
			return Allowed
		}
	}
	return Denied
}

// Authorize returns nil, ErrUnauthenticated for anonymous callers, or ErrInsufficientPermissions.
func (c CallerContext) Authorize(op Operation, ownerID string) error {
	if Authorize(c.Role(), c.userID, ownerID, op) == Allowed {
		return nil
	}
	if !c.Authenticated() {
		return ErrUnauthenticated
	}
	return ErrInsufficientPermissions
}
