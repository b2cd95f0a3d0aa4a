package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Capability is something a staff member may do through the API.
type Capability int

const (
	CapViewLedger Capability = iota
	CapManageContracts
	CapVerifyPayments
	CapRunBatch
)

func (c Capability) String() string {
	switch c {
	case CapViewLedger:
		return "view_ledger"
	case CapManageContracts:
		return "manage_contracts"
	case CapVerifyPayments:
		return "verify_payments"
	case CapRunBatch:
		return "run_batch"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Role is asserted by the authenticating proxy in front of the API.
type Role string

const (
	RoleViewer Role = "VIEWER"
	RoleStaff  Role = "STAFF"
	RoleAdmin  Role = "ADMIN"
)

const (
	roleHeader  = "X-Staff-Role"
	staffHeader = "X-Staff-ID"
)

// ParseRole reads a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleViewer, RoleStaff, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleStaff:
		switch c {
		case CapViewLedger, CapManageContracts, CapVerifyPayments:
			return true
		case CapRunBatch:
			return false
		}
	case RoleViewer:
		return c == CapViewLedger
	}
	return false
}

// require wraps a handler so it only runs for roles holding capability c.
func (s *Server) require(c Capability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(roleHeader)
		if header == "" {
			http.Error(w, "Missing "+roleHeader+" header", http.StatusUnauthorized)
			return
		}
		role, err := ParseRole(header)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		if !role.Can(c) {
			s.logger.WithFields(logrus.Fields{
				"role":       role,
				"capability": c.String(),
				"path":       r.URL.Path,
			}).Warn("Request denied")
			http.Error(w, fmt.Sprintf("Role %s may not %s", role, c), http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
