package tenancy

import (
	"fmt"
	"strings"
)

// Action is a data-access verb.
type Action uint8

const (
	ActionCreate Action = 1 << iota
	ActionRead
	ActionReadMany
	ActionUpdate
	ActionDelete
)

var actionNames = map[Action]string{
	ActionCreate:   "create",
	ActionRead:     "read",
	ActionReadMany: "read_many",
	ActionUpdate:   "update",
	ActionDelete:   "delete",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ActionSet is a bitmask of actions.
type ActionSet uint8

// AllActions covers every action.
const AllActions = ActionSet(ActionCreate | ActionRead | ActionReadMany | ActionUpdate | ActionDelete)

// Actions builds a set from the given actions.
func Actions(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s |= ActionSet(a)
	}
	return s
}

// Has reports whether a is in the set.
func (s ActionSet) Has(a Action) bool { return s&ActionSet(a) != 0 }

func (s ActionSet) String() string {
	var names []string
	for _, a := range []Action{ActionCreate, ActionRead, ActionReadMany, ActionUpdate, ActionDelete} {
		if s.Has(a) {
			names = append(names, a.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Entity identifies a persisted entity. The zero value is invalid.
type Entity uint8

const (
	EntityTenant Entity = iota + 1
	EntityUser
	EntityPatient
	EntityCatalogService
	EntityAppointment
	EntityOrder
)

type entityInfo struct {
	name  string
	table string
}

var entities = map[Entity]entityInfo{
	EntityTenant:         {"tenant", "tenants"},
	EntityUser:           {"user", "users"},
	EntityPatient:        {"patient", "patients"},
	EntityCatalogService: {"catalog_service", "catalog_services"},
	EntityAppointment:    {"appointment", "appointments"},
	EntityOrder:          {"order", "orders"},
}

// Entities returns every known entity in declaration order.
func Entities() []Entity {
	return []Entity{EntityTenant, EntityUser, EntityPatient, EntityCatalogService, EntityAppointment, EntityOrder}
}

func (e Entity) String() string {
	if info, ok := entities[e]; ok {
		return info.name
	}
	return fmt.Sprintf("entity(%d)", uint8(e))
}

// Table is the relational table backing the entity.
func (e Entity) Table() string {
	return entities[e].table
}

// Valid reports whether e is a declared entity.
func (e Entity) Valid() bool {
	_, ok := entities[e]
	return ok
}

// Rule describes how tenant scoping applies to one entity.
type Rule struct {
	Entity           Entity
	Actions          ActionSet
	TenantIDRequired bool
}

// RuleTable is the static, process-wide rule set keyed by entity.
type RuleTable map[Entity]Rule

// DefaultRules is the rule table used by the server. Tenants are the
// isolation boundary itself and are never filtered. Users are provisioned
// by the identity provider, so only their reads and mutations are scoped.
func DefaultRules() RuleTable {
	return RuleTable{
		EntityTenant:         {Entity: EntityTenant, Actions: AllActions, TenantIDRequired: false},
		EntityUser:           {Entity: EntityUser, Actions: Actions(ActionRead, ActionReadMany, ActionUpdate, ActionDelete), TenantIDRequired: true},
		EntityPatient:        {Entity: EntityPatient, Actions: AllActions, TenantIDRequired: true},
		EntityCatalogService: {Entity: EntityCatalogService, Actions: AllActions, TenantIDRequired: true},
		EntityAppointment:    {Entity: EntityAppointment, Actions: AllActions, TenantIDRequired: true},
		EntityOrder:          {Entity: EntityOrder, Actions: AllActions, TenantIDRequired: true},
	}
}

// Validate checks that every known entity has exactly one well-formed rule
// and that the table names no unknown entity. A failing table must abort
// startup.
func (t RuleTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("tenancy: rule table is empty")
	}
	for e, r := range t {
		if !e.Valid() {
			return fmt.Errorf("tenancy: rule for unknown %s", e)
		}
		if r.Entity != e {
			return fmt.Errorf("tenancy: rule keyed by %s describes %s", e, r.Entity)
		}
		if r.Actions == 0 {
			return fmt.Errorf("tenancy: rule for %s has no actions", e)
		}
		if r.Actions&^AllActions != 0 {
			return fmt.Errorf("tenancy: rule for %s has unknown action bits %08b", e, uint8(r.Actions&^AllActions))
		}
	}
	for _, e := range Entities() {
		if _, ok := t[e]; !ok {
			return fmt.Errorf("tenancy: no rule for %s", e)
		}
	}
	return nil
}

// Lookup returns the rule for an entity.
func (t RuleTable) Lookup(e Entity) (Rule, bool) {
	r, ok := t[e]
	return r, ok
}
